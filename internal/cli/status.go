package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/z1w2r3/suna-sub001/internal/config"
	"github.com/z1w2r3/suna-sub001/pkg/gateway"
	"github.com/z1w2r3/suna-sub001/pkg/runs"
)

var (
	gatewayURL    string
	gatewaySecret string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status and active runs",
	Long:  `Check the gateway health endpoint and list the runs currently executing.`,
	RunE:  runStatus,
}

func init() {
	addGatewayFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

func addGatewayFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&gatewayURL, "url", "", "gateway base URL (default from config)")
	cmd.Flags().StringVar(&gatewaySecret, "secret", "", "gateway shared secret (default from config)")
}

// gatewayTarget resolves the gateway base URL and secret, preferring flags
// over the config file.
func gatewayTarget() (string, string) {
	url := gatewayURL
	secret := gatewaySecret
	if url == "" || secret == "" {
		if cfg, err := config.NewLoader(cfgFile).Load(); err == nil {
			if url == "" {
				url = fmt.Sprintf("http://localhost:%d", cfg.Gateway.Port)
			}
			if secret == "" {
				secret = cfg.Gateway.SharedSecret
			}
		}
	}
	if url == "" {
		url = "http://localhost:8090"
	}
	return strings.TrimRight(url, "/"), secret
}

func gatewayGet(client *http.Client, url, secret, path string, v interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(gateway.SecretHeader, secret)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized (check --secret)")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func runStatus(cmd *cobra.Command, args []string) error {
	url, secret := gatewayTarget()
	client := &http.Client{Timeout: 5 * time.Second}
	out := cmd.OutOrStdout()

	var health map[string]string
	if err := gatewayGet(client, url, "", "/healthz", &health); err != nil {
		fmt.Fprintf(out, "Status: unreachable (%v)\n", err)
		fmt.Fprintf(out, "Gateway: %s\n", url)
		return nil
	}

	fmt.Fprintf(out, "Status: %s\n", health["status"])
	fmt.Fprintf(out, "Gateway: %s\n", url)

	var listed struct {
		Runs []runs.Run `json:"runs"`
	}
	if err := gatewayGet(client, url, secret, "/runs", &listed); err != nil {
		fmt.Fprintf(out, "Active runs: %v\n", err)
		return nil
	}

	fmt.Fprintf(out, "Active runs: %d\n", len(listed.Runs))
	for _, run := range listed.Runs {
		fmt.Fprintf(out, "  %s  thread=%s  running for %s\n",
			run.ID, run.ThreadID, formatDuration(time.Since(run.StartedAt)))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
