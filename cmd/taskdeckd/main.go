// Package main provides the entry point for the taskdeck daemon.
package main

import (
	"fmt"
	"os"

	"github.com/taskdeck/taskdeck/cmd/taskdeckd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
