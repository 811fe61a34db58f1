// Command tlsgate runs the TLS-intercepting proxy described by a
// tlsgate.toml configuration document, the way caddy's own command
// package wires cobra subcommands onto the core engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tlsgate/tlsgate/internal/tglog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:   "tlsgate",
		Short: "A TLS-intercepting forward/reverse HTTP proxy driven by sandboxed hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				if err := tglog.SetDevelopment(); err != nil {
					return err
				}
			}
			return runAll(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "path", defaultConfigPath(), "path to the tlsgate.toml configuration document")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable development-mode logging")

	root.AddCommand(newGenerateCACmd(&configPath))
	root.AddCommand(newInitCmd(&configPath))
	root.AddCommand(newAddProxyCmd(&configPath))
	root.AddCommand(newHTTPCmd(&configPath))

	return root
}
