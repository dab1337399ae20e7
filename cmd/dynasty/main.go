package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "dynasty",
	Short:         "Dynasty league dashboard",
	Long:          "dynasty caches a dynasty league's REST API locally and serves it as a dashboard API and MCP tools.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, teamCmd)
	rootCmd.AddCommand(teamsCmd, standingsCmd, scheduleCmd, overviewCmd)
	rootCmd.AddCommand(achievementsCmd, completeCmd, pendingCmd)
	rootCmd.AddCommand(notificationsCmd, readCmd, approveCmd, rejectCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
