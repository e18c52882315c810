package main

import (
	"os"

	"github.com/z1w2r3/suna-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
