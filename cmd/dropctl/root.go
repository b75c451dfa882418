package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vyris/vyris-backend/internal/cron"
	"github.com/vyris/vyris-backend/internal/drops"
	"github.com/vyris/vyris-backend/pkg/types"
)

var validFormats = []string{"text", "json"}

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	Format  string
	Catalog string
	Verbose bool
}

type provisioner interface {
	Seed(ctx context.Context, entry drops.Entry) (drops.SeedReport, error)
	Unseed(ctx context.Context, drop types.Drop) (int64, error)
	Status(ctx context.Context, drop types.Drop) (drops.Status, error)
}

type revoker interface {
	Revoke(ctx context.Context, id uuid.UUID) (bool, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, drop types.Drop) (cron.DropReport, error)
}

// backend is everything a subcommand talks to. Entries is the resolved drop
// list: the configured active drop followed by the catalog.
type backend struct {
	Provisioner provisioner
	Reconciler  reconciler
	Memberships revoker
	Entries     []drops.Entry
	Close       func()
}

// connectFunc opens a backend. alertOnly switches the reconciler to report
// drift without rewriting the gate.
type connectFunc func(ctx context.Context, opts *rootOptions, alertOnly bool) (*backend, error)

func newRootCommand(connect connectFunc) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dropctl",
		Short: "Operate VYRIS membership drops",
		Long: `dropctl prepares and inspects the allocation pool and admission gate of
each drop. Drops are addressed as tier/year, for example genesis/2025. With no
drop argument a command applies to the configured drop and every catalog entry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Catalog, "catalog", "", "drop catalog TOML file (overrides VYRIS_DROP_CATALOG)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr at debug level")

	cmd.AddCommand(newSeedCommand(opts, connect))
	cmd.AddCommand(newUnseedCommand(opts, connect))
	cmd.AddCommand(newStatusCommand(opts, connect))
	cmd.AddCommand(newReconcileCommand(opts, connect))
	cmd.AddCommand(newRevokeCommand(opts, connect))

	return cmd
}

// parseDropArg accepts "tier/year".
func parseDropArg(raw string) (types.Drop, error) {
	tier, year, ok := strings.Cut(raw, "/")
	if !ok {
		return types.Drop{}, fmt.Errorf("drop %q must look like tier/year", raw)
	}
	return types.ParseDrop(tier, year)
}

// selectEntries narrows the backend's entries to the named drops. A drop that
// is not in the catalog is still returned, with zero capacity.
func selectEntries(all []drops.Entry, args []string) ([]drops.Entry, error) {
	if len(args) == 0 {
		return all, nil
	}
	out := make([]drops.Entry, 0, len(args))
	for _, arg := range args {
		drop, err := parseDropArg(arg)
		if err != nil {
			return nil, err
		}
		entry := drops.Entry{Drop: drop}
		for _, e := range all {
			if e.Drop == drop {
				entry = e
				break
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
