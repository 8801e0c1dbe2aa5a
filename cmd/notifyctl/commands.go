package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/mywio/im-notify/pkg/bootstrap"
	"github.com/mywio/im-notify/pkg/core"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Print filter diagnostics for every listener",
		Long: `Parse the xmpp section and report every parameter that was
dropped while building the listener filters.

Exits non-zero when any listener has diagnostics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd.Context(), false, "diagnostics", nil)
			if err != nil {
				return err
			}
			diags, _ := res.(map[string][]string)
			if err := printDiagnostics(cmd.OutOrStdout(), diags); err != nil {
				return err
			}
			for _, d := range diags {
				if len(d) > 0 {
					return fmt.Errorf("configuration has problems")
				}
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <address>",
		Short: "Show the presence of an XMPP address",
		Long: `Connect with the listener's session and print the presence
state of the address: OFFLINE, ONLINE, BUSY, AWAY or AWAY_LONG.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd.Context(), true, "status", map[string]interface{}{"address": args[0]})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <address> <text>",
		Short: "Send a test message to an XMPP address",
		Long: `Connect with the listener's session and send text to the address,
regardless of its presence. The presence state is printed alongside.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd.Context(), true, "send", map[string]interface{}{"address": args[0], "text": args[1]})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
}

// run builds the notifier from the configuration and executes one action.
func run(ctx context.Context, connect bool, action string, params map[string]interface{}) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	settings, err := bootstrap.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	comps, err := bootstrap.NewComponents(ctx, settings.Core, logger)
	if err != nil {
		return nil, err
	}

	mgr := core.NewModuleManager(logger)
	mgr.SetConfig(settings.Sections)
	bootstrap.RegisterSecrets(mgr, settings.Sections)
	notifier := comps.NewNotifier(settings.Core)
	mgr.Register(notifier)
	if err := mgr.Init(ctx); err != nil {
		return nil, err
	}
	defer mgr.Stop(ctx)

	if connect {
		if err := notifier.Start(ctx); err != nil {
			return nil, err
		}
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if listener != "" {
		params["listener"] = listener
	}
	return notifier.Execute(ctx, action, params)
}

func printDiagnostics(w io.Writer, diags map[string][]string) error {
	if outputFmt == "json" {
		return printJSON(w, diags)
	}
	names := make([]string, 0, len(diags))
	for name := range diags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if len(diags[name]) == 0 {
			fmt.Fprintf(w, "%s: ok\n", name)
			continue
		}
		fmt.Fprintf(w, "%s:\n", name)
		for _, d := range diags[name] {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
	return nil
}

func printResult(w io.Writer, res interface{}) error {
	if outputFmt == "json" {
		return printJSON(w, res)
	}
	switch v := res.(type) {
	case string:
		fmt.Fprintln(w, v)
	case map[string]interface{}:
		fmt.Fprintf(w, "status: %v\nsent: %v\n", v["status"], v["sent"])
	default:
		fmt.Fprintf(w, "%v\n", v)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
