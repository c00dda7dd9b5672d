// Package main provides the entry point for the concord CLI.
package main

import (
	"os"

	"github.com/randalmurphal/concord/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
