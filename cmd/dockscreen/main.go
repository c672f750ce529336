package main

import (
	"fmt"
	"os"

	"github.com/moltools/dockscreen/internal/interfaces/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dockscreen:", err)
		os.Exit(1)
	}
}
