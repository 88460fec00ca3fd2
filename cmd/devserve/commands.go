package main

import (
	"encoding/json"
	"fmt"

	"devserve/internal/config"
	"devserve/internal/version"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "devserve",
		Short: "Serve a directory and live-reload browsers on change",
		Long: `devserve serves a directory over HTTP, injects a small live-reload
script into HTML pages and tells every connected browser to refresh when a
file matching the watch patterns changes.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &ExitError{Code: exitUsage, Err: fmt.Errorf("unexpected argument %q", args[0])}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}
			cmd.SetContext(config.NewContext(cmd.Context(), cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), config.FromContext(cmd.Context()), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .devserve.yaml)")
	pf.Int("port", config.DefaultPort, "port to listen on (0 picks a free port)")
	pf.String("host", config.DefaultHost, "host or address to bind")
	pf.String("root", config.DefaultRoot, "directory to serve and watch")
	pf.StringSlice("watch", config.DefaultWatch, "glob patterns that trigger a reload (repeatable)")
	pf.StringSlice("ignore", config.DefaultIgnore, "glob patterns never watched (repeatable)")
	pf.Duration("debounce", config.DefaultDebounce, "quiet period before a reload is sent")
	pf.Duration("max-wait", config.DefaultMaxWait, "longest a reload is delayed under continuous changes")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("no-color", false, "disable colored output")
	pf.Bool("metrics", false, "expose Prometheus metrics at /__devserve/metrics")
	pf.Bool("inject", true, "inject the live-reload script into HTML pages")
	pf.Bool("css-inject", false, "swap stylesheets in place when only CSS changed")
	pf.Int("max-clients", 0, "maximum connected browsers (0 means unlimited)")
	pf.StringSlice("allow-origin", nil, "extra websocket origins to accept, as host or full origin (repeatable)")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: exitUsage, Err: err}
	})

	cmd.AddCommand(
		newVersionCommand(),
		newConfigCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetVersionInfo()
			if jsonOutput {
				payload, err := json.Marshal(info)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output version info as JSON")
	return cmd
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rendered, err := config.FromContext(cmd.Context()).YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(rendered)
			return err
		},
	}
}
