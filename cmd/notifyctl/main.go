// notifyctl inspects and exercises the XMPP notifier configuration.
//
// Usage:
//
//	notifyctl validate
//	notifyctl status alice@chat.example.com
//	notifyctl send alice@chat.example.com "Deploy finished"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	listener   string
	outputFmt  string
	verbose    bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notifyctl",
		Short: "Validate and test the XMPP issue notifier",
		Long: `notifyctl loads the same configuration as the notifier daemon
(.env, environment and config file) and runs one action against it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $CONFIG_FILE or config.yaml)")
	root.PersistentFlags().StringVarP(&listener, "listener", "l", "", "Listener name (default: the first one)")
	root.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "Output format: text, json")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(validateCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(sendCmd())
	return root
}
