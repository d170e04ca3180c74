package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/counter"
)

// LeaderboardOptions holds flags for the leaderboard command.
type LeaderboardOptions struct {
	*RootOptions
	LogOptions
	Top int // show only the top N users; 0 shows all
}

// NewLeaderboardCommand creates the leaderboard command.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LeaderboardOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the leaderboard rebuilt from the event log",
		Long: `Rebuild the counter store from the event log and print the leaderboard.

Entries are listed in the order clients receive them: ascending by count,
ties in registration order. With --top, the N highest counts are listed.

Examples:
  tally leaderboard --log ./tally.jsonl
  tally leaderboard --log ./tally.jsonl --top 10
  tally leaderboard --log ./events.db --backend sqlite --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaderboard(opts, cmd)
		},
	}

	opts.LogOptions.register(cmd)
	cmd.Flags().IntVar(&opts.Top, "top", 0, "show only the top N users")
	return cmd
}

func runLeaderboard(opts *LeaderboardOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Top < 0 {
		return NewExitError(ExitCommandError, "--top must be non-negative")
	}

	src, closer, err := openSource(&opts.LogOptions, commandLogger(cmd.ErrOrStderr(), opts.Verbose))
	if err != nil {
		return reportError(out, err)
	}
	defer closer.Close()

	store, stats, err := rebuild(ctx, src, opts.Counted)
	if err != nil {
		return reportError(out, err)
	}
	out.VerboseLog("rebuilt %d users from %d records", stats.Users, stats.Records)

	entries := top(store.Snapshot(), opts.Top)
	if out.JSON() {
		return out.Success(entries)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No users found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCOUNT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\n", e.Name, e.Length)
	}
	return tw.Flush()
}

// top keeps the last n entries of an ascending snapshot. n <= 0 keeps all.
func top(entries []counter.Entry, n int) []counter.Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}
