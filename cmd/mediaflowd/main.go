// Package main is the entry point for the mediaflow daemon.
package main

import (
	"os"

	"github.com/castwell/mediaflow/cmd/mediaflowd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
