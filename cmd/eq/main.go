// Command eq manages the offline field-expense queue: it enqueues drafts,
// inspects and edits the pending queue, and reconciles it against the remote
// expense service.
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
