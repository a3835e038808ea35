package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pacr/pacr/internal/normalize"
	"github.com/pacr/pacr/internal/pac"
	"github.com/pacr/pacr/internal/resolve"
)

type scriptFlags struct {
	path      string
	fallback  string
	dnsServer string
	systemDNS bool
	timeout   time.Duration
}

func (f *scriptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "script", "s", "", "Path to PAC script")
	cmd.Flags().StringVar(&f.fallback, "fallback", "", "Directive used when no rule applies (default DIRECT)")
	cmd.Flags().StringVar(&f.dnsServer, "dns", "", "DNS server for resolver-backed functions")
	cmd.Flags().BoolVar(&f.systemDNS, "system-dns", false, "Use the system resolver for resolver-backed functions")
	cmd.Flags().DurationVar(&f.timeout, "dns-timeout", 2*time.Second, "Resolver timeout")
}

func (f *scriptFlags) options() (pac.Options, error) {
	var opts pac.Options
	if f.fallback != "" {
		fallback, err := pac.ParseDirective(f.fallback)
		if err != nil {
			return opts, fmt.Errorf("fallback: %w", err)
		}
		opts.Fallback = fallback
	}
	switch {
	case f.dnsServer != "":
		opts.Resolver = resolve.NewDNS(f.dnsServer, f.timeout)
	case f.systemDNS:
		opts.Resolver = &resolve.System{Timeout: f.timeout}
	}
	return opts, nil
}

func (f *scriptFlags) parse() (*pac.Script, error) {
	if f.path == "" {
		return nil, errors.New("script path is required")
	}
	src, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	opts, err := f.options()
	if err != nil {
		return nil, err
	}
	return pac.Parse(string(src), opts)
}

func newEvalCmd() *cobra.Command {
	var (
		flags  scriptFlags
		rawURL string
		host   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a PAC script for one URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := flags.parse()
			if err != nil {
				return err
			}
			target, err := normalize.Apply(rawURL, host)
			if err != nil {
				return err
			}
			res, err := script.EvaluateContext(cmd.Context(), target.URL, target.Host)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"directive": res.Directive.String(),
					"entries":   res.Directive.Entries,
					"outcome":   res.Outcome,
					"clause":    res.Clause,
				})
			}
			_, err = fmt.Fprintln(out, res.Directive.String())
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&rawURL, "url", "", "URL being requested")
	cmd.Flags().StringVar(&host, "host", "", "Host of the URL (derived from --url when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")

	return cmd
}

func newCheckCmd() *cobra.Command {
	var flags scriptFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Parse a PAC script and list its clauses",
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := flags.parse()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, clause := range script.Clauses {
				if _, err := fmt.Fprintf(out, "%d\tline %d\tif %s\t-> %s\n", i+1, clause.Line, clause.Condition, clause.Directive); err != nil {
					return err
				}
			}
			if script.Default != nil {
				_, err = fmt.Fprintf(out, "default\t-> %s\n", script.Default)
			} else {
				_, err = fmt.Fprintf(out, "fallback\t-> %s\n", script.Fallback)
			}
			return err
		},
	}

	flags.register(cmd)

	return cmd
}
