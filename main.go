package main

import (
	"fmt"
	"os"

	"github.com/floraguard/floraguard-go/cmd"
)

// Populated at build time via -ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := cmd.RootCommand(version, buildDate).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
