package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
)

// PingResult reports backend reachability.
type PingResult struct {
	Database string `json:"database" yaml:"database"`
	Cache    string `json:"cache" yaml:"cache"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:          "ping",
		Short:        "Check database and cache connectivity",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer kit.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result := PingResult{Database: "ok", Cache: "disabled"}
			var errs []error
			if err := kit.Manager.Ping(ctx); err != nil {
				result.Database = err.Error()
				errs = append(errs, err)
			}
			if p, ok := kit.Cache.(pinger); ok {
				result.Cache = "ok"
				if err := p.Ping(ctx); err != nil {
					result.Cache = err.Error()
					errs = append(errs, err)
				}
			} else if kit.Cache != nil {
				result.Cache = "in-process"
			}

			if err := rootOpts.write(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "time allowed for each check")
	return cmd
}
