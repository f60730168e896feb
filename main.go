// Package main is the entry point for the robotcap recording agent.
package main

import (
	"fmt"
	"os"

	"github.com/robotcap/agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
