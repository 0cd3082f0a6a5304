// Command agentgraph is an interactive coding agent with persisted,
// resumable conversations and human confirmation of side-effecting tools.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
