package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "http-mqtt-bridge",
		Short: "Bridge HTTP requests onto a pub/sub broker",
		Long: `http-mqtt-bridge publishes the message of every POST / request to a topic and,
when the request names an ack_topic, answers with the first message that arrives there.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  "Connect to the configured broker and serve HTTP until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "optional YAML config file; environment variables override it")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
