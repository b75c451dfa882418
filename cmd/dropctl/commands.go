package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/vyris/vyris-backend/internal/cron"
	"github.com/vyris/vyris-backend/internal/drops"
)

func newSeedCommand(rootOpts *rootOptions, connect connectFunc) *cobra.Command {
	var capacity int

	cmd := &cobra.Command{
		Use:   "seed [tier/year...]",
		Short: "Fill the allocation pool and create the gate counter",
		Long: `seed inserts the missing allocations of a drop in shuffled order and
creates its admission counter from the unclaimed count. Seeding is idempotent:
claimed allocations are never touched and an existing counter is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := connect(cmd.Context(), rootOpts, false)
			if err != nil {
				return err
			}
			defer be.Close()

			entries, err := selectEntries(be.Entries, args)
			if err != nil {
				return err
			}
			if capacity > 0 {
				for i := range entries {
					entries[i].Capacity = capacity
				}
			}

			var (
				reports []drops.SeedReport
				errs    error
			)
			for _, entry := range entries {
				if entry.Capacity <= 0 {
					errs = multierr.Append(errs, fmt.Errorf("%s: no capacity configured; pass --capacity", entry.Drop))
					continue
				}
				report, err := be.Provisioner.Seed(cmd.Context(), entry)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				reports = append(reports, report)
			}
			if err := render(cmd.OutOrStdout(), rootOpts.Format, reports, writeSeedText); err != nil {
				return err
			}
			return errs
		},
	}
	cmd.Flags().IntVar(&capacity, "capacity", 0, "override the capacity of every selected drop")
	return cmd
}

type unseedResult struct {
	Drop    string `json:"drop"`
	Removed int64  `json:"removed"`
}

func newUnseedCommand(rootOpts *rootOptions, connect connectFunc) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "unseed tier/year...",
		Short: "Remove unclaimed allocations and close the gate",
		Long: `unseed deletes the unclaimed allocations of the named drops and sets
their admission counter to zero. Minted memberships are kept. Requires --yes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("unseed closes the drop; rerun with --yes")
			}
			be, err := connect(cmd.Context(), rootOpts, false)
			if err != nil {
				return err
			}
			defer be.Close()

			entries, err := selectEntries(be.Entries, args)
			if err != nil {
				return err
			}
			var (
				results []unseedResult
				errs    error
			)
			for _, entry := range entries {
				removed, err := be.Provisioner.Unseed(cmd.Context(), entry.Drop)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				results = append(results, unseedResult{Drop: entry.Drop.String(), Removed: removed})
			}
			if err := render(cmd.OutOrStdout(), rootOpts.Format, results, writeUnseedText); err != nil {
				return err
			}
			return errs
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm removal")
	return cmd
}

func newStatusCommand(rootOpts *rootOptions, connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status [tier/year...]",
		Short: "Show pool and gate counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := connect(cmd.Context(), rootOpts, true)
			if err != nil {
				return err
			}
			defer be.Close()

			entries, err := selectEntries(be.Entries, args)
			if err != nil {
				return err
			}
			var (
				statuses []drops.Status
				errs     error
			)
			for _, entry := range entries {
				st, err := be.Provisioner.Status(cmd.Context(), entry.Drop)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				statuses = append(statuses, st)
			}
			if err := render(cmd.OutOrStdout(), rootOpts.Format, statuses, writeStatusText); err != nil {
				return err
			}
			return errs
		},
	}
}

func newReconcileCommand(rootOpts *rootOptions, connect connectFunc) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile [tier/year...]",
		Short: "Compare gate counters with the pool and repair drift",
		Long: `reconcile runs one pass of the cron worker's gate check. A drifted counter
is rewritten only when no mint for the drop is in flight. With --dry-run the
drift is reported and nothing changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := connect(cmd.Context(), rootOpts, dryRun)
			if err != nil {
				return err
			}
			defer be.Close()

			entries, err := selectEntries(be.Entries, args)
			if err != nil {
				return err
			}
			var (
				reports []cron.DropReport
				errs    error
			)
			for _, entry := range entries {
				report, err := be.Reconciler.Reconcile(cmd.Context(), entry.Drop)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				reports = append(reports, report)
			}
			if err := render(cmd.OutOrStdout(), rootOpts.Format, reports, writeReconcileText); err != nil {
				return err
			}
			return errs
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report drift without rewriting counters")
	return cmd
}

type revokeResult struct {
	MembershipID string `json:"membership_id"`
	Revoked      bool   `json:"revoked"`
}

func newRevokeCommand(rootOpts *rootOptions, connect connectFunc) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "revoke membership-id...",
		Short: "Revoke memberships",
		Long: `revoke marks memberships as revoked. A revoked membership keeps its
allocation but can no longer get a pass, record encounters or move devices.
Revoked=false means the membership was already revoked or does not exist.
Requires --yes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("revoke is permanent; rerun with --yes")
			}
			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("membership id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}

			be, err := connect(cmd.Context(), rootOpts, false)
			if err != nil {
				return err
			}
			defer be.Close()

			var (
				results []revokeResult
				errs    error
			)
			for _, id := range ids {
				revoked, err := be.Memberships.Revoke(cmd.Context(), id)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				results = append(results, revokeResult{MembershipID: id.String(), Revoked: revoked})
			}
			if err := render(cmd.OutOrStdout(), rootOpts.Format, results, writeRevokeText); err != nil {
				return err
			}
			return errs
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm revocation")
	return cmd
}

func writeSeedText(tw *tabwriter.Writer, reports []drops.SeedReport) {
	fmt.Fprintln(tw, "DROP\tEXISTING\tREMOVED\tINSERTED\tGATE CREATED\tGATE\tUNCLAIMED")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%t\t%d\t%d\n",
			r.Status.Drop, r.Existing, r.Removed, r.Inserted, r.GateCreated, r.Status.Gate, r.Status.Unclaimed)
	}
}

func writeUnseedText(tw *tabwriter.Writer, results []unseedResult) {
	fmt.Fprintln(tw, "DROP\tREMOVED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\n", r.Drop, r.Removed)
	}
}

func writeStatusText(tw *tabwriter.Writer, statuses []drops.Status) {
	fmt.Fprintln(tw, "DROP\tTOTAL\tCLAIMED\tUNCLAIMED\tGATE\tIN SYNC")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%t\n", s.Drop, s.Total, s.Claimed, s.Unclaimed, s.Gate, s.InSync())
	}
}

func writeReconcileText(tw *tabwriter.Writer, reports []cron.DropReport) {
	fmt.Fprintln(tw, "DROP\tGATE\tUNCLAIMED\tIN FLIGHT\tOUTCOME")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", r.Drop, r.Gate, r.Unclaimed, r.InFlight, r.Outcome)
	}
}

func writeRevokeText(tw *tabwriter.Writer, results []revokeResult) {
	fmt.Fprintln(tw, "MEMBERSHIP\tREVOKED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%t\n", r.MembershipID, r.Revoked)
	}
}

// render writes rows as indented JSON or through the text table writer.
func render[T any](out io.Writer, format string, rows []T, text func(*tabwriter.Writer, []T)) error {
	if format == "json" {
		if rows == nil {
			rows = []T{}
		}
		return writeJSON(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	text(tw, rows)
	return tw.Flush()
}
