// Package main provides the entry point for the Conjure CLI.
package main

import (
	"fmt"
	"os"

	"github.com/conjurehq/conjure/cmd/conjure/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
