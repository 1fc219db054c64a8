// Package main provides the entry point for the insightos CLI.
package main

import (
	"os"

	"github.com/rajasaid/InsightOS/cmd/insightos/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
