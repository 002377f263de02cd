package main

import (
	"os"

	"github.com/StanleyChanH/MicroClaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
