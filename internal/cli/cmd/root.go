package cmd

import (
	"fmt"
	"os"

	"github.com/filipexyz/hookd/internal/cli/config"
	"github.com/filipexyz/hookd/internal/cli/output"
	"github.com/filipexyz/hookd/pkg/client"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	serverURL  string
	jsonOutput bool
	cfg        *config.Config
	out        *output.Output
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "Operator CLI for the hookd webhook intake daemon",
	Long:  `hookctl inspects a running hookd instance: the event log, per-event delivery records, and the dead letter queue.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		out = output.New(jsonOutput)

		// Load config (ignore errors for commands that don't need it)
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			cfg = &config.Config{}
		}

		// Server URL priority: flag > config > default
		if serverURL == "" && cfg.Server != "" {
			serverURL = cfg.Server
		}
		if serverURL == "" {
			serverURL = client.DefaultServer
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.hookd/config.json)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

// getClient creates a client with current config.
func getClient() *client.Client {
	return client.New(client.WithServer(serverURL))
}
