package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - Asynchronous messaging middleware",
	Long: `Burrow is a messaging middleware for building cooperating services:
typed self-describing containers over framed TCP sessions with optional
compression and encryption, plus an in-process publish/subscribe bus with
topic patterns and request/reply.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("logging_level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("write_console_mode", true, "Write human-readable console logs instead of JSON")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(busDemoCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("logging_level")
	console, _ := rootCmd.PersistentFlags().GetBool("write_console_mode")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: !console,
	})
}
