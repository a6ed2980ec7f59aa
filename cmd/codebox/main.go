// Package main provides the entry point for the codebox CLI.
package main

import (
	"os"

	"github.com/retoolsx/codebox/cmd/codebox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
