package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tlsgate/tlsgate/internal/ca"
	"github.com/tlsgate/tlsgate/internal/proxycfg"
)

// newGenerateCACmd ensures a root CA exists (generating one if absent),
// prints its certificate path, and optionally installs it into the OS
// trust store.
func newGenerateCACmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "generate-ca",
		Short: "Ensure a root certificate authority exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dataDir()
			if force {
				os.RemoveAll(dir)
			}
			authority, err := ca.NewAuthority(dir)
			if err != nil {
				return fmt.Errorf("generate-ca: %w", err)
			}
			certPath := filepath.Join(dir, "root.crt")
			fmt.Fprintln(cmd.OutOrStdout(), certPath)
			if trust, _ := cmd.Flags().GetBool("trust"); trust {
				if err := authority.Trust(cmd.Context()); err != nil {
					return fmt.Errorf("generate-ca: %w", err)
				}
			}
			if info, err := os.Stat(certPath); err == nil {
				fmt.Fprintf(os.Stderr, "root certificate: %s (%s)\n", certPath, humanize.Bytes(uint64(info.Size())))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "regenerate the root CA even if one already exists")
	cmd.Flags().Bool("trust", false, "install the root certificate into the OS trust store")
	return cmd
}

// newInitCmd creates an empty configuration document if absent.
func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty tlsgate.toml if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(*configPath), 0o755); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			if err := proxycfg.EnsureExists(*configPath); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), *configPath)
			return nil
		},
	}
}

// newAddProxyCmd interactively appends a [[proxy]] block to the
// configuration document.
func newAddProxyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add-proxy",
		Short: "Interactively add a [[proxy]] block to the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			desc := proxycfg.ProxyDescriptor{}

			desc.Name = prompt(reader, cmd, "name (optional): ")
			desc.Address = promptDefault(reader, cmd, "listen address", "127.0.0.1")
			desc.Port = promptUint16(reader, cmd, "listen port", 8888)
			desc.Protocol = proxycfg.Protocol(promptDefault(reader, cmd, "protocol (tcp|http|httpforward)", "httpforward"))
			desc.TLS = promptBool(reader, cmd, "upstream uses tls", false)
			if desc.Protocol != proxycfg.ProtocolHTTPForward {
				desc.UpstreamAddress = prompt(reader, cmd, "upstream address: ")
				desc.UpstreamPort = promptUint16(reader, cmd, "upstream port", 443)
			}
			desc.HookConfigPath = prompt(reader, cmd, "rewrite-engine yaml path (optional): ")

			if err := appendProxyBlock(*configPath, desc); err != nil {
				return fmt.Errorf("add-proxy: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "added proxy to", *configPath)
			return nil
		},
	}
}

// newHTTPCmd bootstraps a minimal setup (config, CA, a default
// httpforward proxy if none exists) and then runs.
func newHTTPCmd(configPath *string) *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Bootstrap a default forward proxy configuration and run it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(*configPath), 0o755); err != nil {
				return fmt.Errorf("http: %w", err)
			}
			if err := proxycfg.EnsureExists(*configPath); err != nil {
				return fmt.Errorf("http: %w", err)
			}
			if _, err := ca.NewAuthority(dataDir()); err != nil {
				return fmt.Errorf("http: %w", err)
			}

			doc, err := proxycfg.Load(*configPath)
			if err != nil {
				return fmt.Errorf("http: %w", err)
			}
			if len(doc.Proxy) == 0 {
				if err := appendProxyBlock(*configPath, proxycfg.ProxyDescriptor{
					Address:  "127.0.0.1",
					Port:     port,
					Protocol: proxycfg.ProtocolHTTPForward,
				}); err != nil {
					return fmt.Errorf("http: %w", err)
				}
			}

			return runAll(cmd.Context(), *configPath)
		},
	}
	cmd.Flags().Uint16Var(&port, "port", 8888, "listen port for the bootstrapped forward proxy")
	return cmd
}

func prompt(r *bufio.Reader, cmd *cobra.Command, label string) string {
	fmt.Fprint(cmd.OutOrStdout(), label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptDefault(r *bufio.Reader, cmd *cobra.Command, label, def string) string {
	v := prompt(r, cmd, fmt.Sprintf("%s [%s]: ", label, def))
	if v == "" {
		return def
	}
	return v
}

func promptUint16(r *bufio.Reader, cmd *cobra.Command, label string, def uint16) uint16 {
	v := promptDefault(r, cmd, label, strconv.Itoa(int(def)))
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return def
	}
	return uint16(n)
}

func promptBool(r *bufio.Reader, cmd *cobra.Command, label string, def bool) bool {
	v := strings.ToLower(promptDefault(r, cmd, label, strconv.FormatBool(def)))
	return v == "true" || v == "yes" || v == "y"
}

// appendProxyBlock appends one [[proxy]] TOML block to path, creating the
// file if absent.
func appendProxyBlock(path string, d proxycfg.ProxyDescriptor) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("\n[[proxy]]\n")
	if d.Name != "" {
		fmt.Fprintf(&b, "name = %q\n", d.Name)
	}
	fmt.Fprintf(&b, "address = %q\n", d.Address)
	fmt.Fprintf(&b, "port = %d\n", d.Port)
	fmt.Fprintf(&b, "protocol = %q\n", string(d.Protocol))
	fmt.Fprintf(&b, "tls = %t\n", d.TLS)
	if d.UpstreamAddress != "" {
		fmt.Fprintf(&b, "upstream_address = %q\n", d.UpstreamAddress)
		fmt.Fprintf(&b, "upstream_port = %d\n", d.UpstreamPort)
	}
	if d.HookConfigPath != "" {
		fmt.Fprintf(&b, "proxy_configuration_path = %q\n", d.HookConfigPath)
	}

	_, err = f.WriteString(b.String())
	return err
}
