package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/braindrive/library-service/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved service configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

var warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)

func runConfig(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		fatal(cmd, err)
		return nil
	}

	doc := fmt.Sprintf(`# libraryd configuration

| key | value | source |
|---|---|---|
| library path | %s | %s |
| require user header | %v | %s |
| base template path | %s | %s |
| operational log path | %s | %s |
`,
		cfg.LibraryPath, cfg.ValueSource("BRAINDRIVE_LIBRARY_PATH"),
		cfg.RequireUserHeader, cfg.ValueSource("BRAINDRIVE_LIBRARY_REQUIRE_USER_HEADER"),
		orDash(cfg.BaseTemplatePath), cfg.ValueSource("BRAINDRIVE_LIBRARY_BASE_TEMPLATE_PATH"),
		orDash(cfg.OperationalLogPath), cfg.ValueSource("BRAINDRIVE_LIBRARY_LOG_PATH"),
	)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	}

	rendered, err := glamour.Render(doc, "dark")
	if err != nil {
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	if cfg.ServiceToken == "" {
		fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("warning: no service token configured, requests are not authenticated"))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
