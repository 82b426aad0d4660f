// Command libraryd serves the multi-tenant markdown library over HTTP and
// provides the bootstrap/config CLI surface used by operators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "libraryd",
	Short: "Multi-tenant markdown library service",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(cmd *cobra.Command, err error) {
	fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	os.Exit(1)
}
