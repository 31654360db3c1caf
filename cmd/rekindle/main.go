package main

import (
	"fmt"
	"os"

	"github.com/lalithlochan/rekindle/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := cli.NewRootCommand(cli.OpenRuntime)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
