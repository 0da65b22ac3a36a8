// Command execcore runs the sandboxed multi-language execution service: a
// token-gated job store, a static source validator, a PTY-supervised
// executor, and a WebSocket session orchestrator, wired together behind one
// HTTP(S) listener.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execcore",
		Short: "Sandboxed multi-language code execution service",
	}
	cmd.AddCommand(serveCmd())
	return cmd
}
