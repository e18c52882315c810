package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/z1w2r3/suna-sub001/pkg/gateway"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop an active run",
	Long: `Ask the gateway to cancel an active run. The run's partial output
stays persisted and its usage is settled before it ends.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	addGatewayFlags(stopCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	runID := args[0]
	url, secret := gatewayTarget()
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(http.MethodPost, url+"/runs/"+runID+"/stop", nil)
	if err != nil {
		return err
	}
	req.Header.Set(gateway.SecretHeader, secret)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized (check --secret)")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var stopped struct {
		Stopped bool `json:"stopped"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		return err
	}

	if stopped.Stopped {
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s stopped\n", runID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s is not active\n", runID)
	}
	return nil
}
