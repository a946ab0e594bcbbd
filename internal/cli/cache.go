package cli

import (
	"context"
	"fmt"

	"github.com/ammar0144/storekit"
	"github.com/ammar0144/storekit/pkg/cache"
	"github.com/spf13/cobra"
)

// StatsResult holds the cache statistics printed by "cache stats".
type StatsResult struct {
	Driver  string                 `json:"driver" yaml:"driver"`
	Metrics *cache.MetricsSnapshot `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Server  map[string]interface{} `json:"server,omitempty" yaml:"server,omitempty"`
}

type statsProvider interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage repository caches",
	}
	cmd.AddCommand(newCacheFlushCommand(rootOpts))
	cmd.AddCommand(newCacheStatsCommand(rootOpts))
	return cmd
}

// sharedCache rejects kits whose cache a separate process cannot reach. A
// memory store opened here would be a fresh, empty one.
func sharedCache(kit *storekit.Kit) error {
	if kit.Cache == nil {
		return cache.ErrCacheDisabled
	}
	if driver := kit.Config().Cache; !driver.Shared() {
		return fmt.Errorf("%w: driver %q", cache.ErrNotShared, driver.Driver)
	}
	return nil
}

func newCacheFlushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "flush <repository-id>...",
		Short:        "Drop every cached read of the given repositories",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer kit.Close()
			if err := sharedCache(kit); err != nil {
				return err
			}

			for _, id := range args {
				if err := kit.Cache.Flush(cmd.Context(), id); err != nil {
					return fmt.Errorf("flush %s: %w", id, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "flushed %s\n", id)
			}
			return nil
		},
	}
}

func newCacheStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "stats",
		Short:        "Print cache metrics and server statistics",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer kit.Close()
			if err := sharedCache(kit); err != nil {
				return err
			}

			result := StatsResult{Driver: string(kit.Config().Cache.Driver)}
			if inst, ok := kit.Cache.(cache.Instrumented); ok {
				snap := inst.GetMetrics()
				result.Metrics = &snap
			}
			if sp, ok := kit.Cache.(statsProvider); ok {
				if result.Server, err = sp.GetStats(cmd.Context()); err != nil {
					return err
				}
			}
			return rootOpts.write(cmd.OutOrStdout(), result)
		},
	}
}
