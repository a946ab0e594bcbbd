package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/ammar0144/storekit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "yaml" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"yaml", "json"}

// NewRootCommand creates the root command for the storekit CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "storekit",
		Short: "Inspect storekit databases and caches",
		Long: `Operational commands for services built on storekit repositories.

Reads the same YAML configuration as storekit.LoadConfig.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "storekit.yaml", "configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "yaml", "output format (yaml|json)")

	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// open loads the configuration and wires a kit
func (o *RootOptions) open() (*storekit.Kit, error) {
	cfg, err := storekit.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if o.Verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	return storekit.Open(cfg, logger)
}

func (o *RootOptions) write(w io.Writer, v any) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}
