package main

import (
	"fmt"
	"os"

	"github.com/vidya-ai/vidya/libs/query-engine/cmd/query-engine-cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
