package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/provider"
	"github.com/roach88/docsync/internal/store"
)

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	Threshold int
}

type compactResult struct {
	Compacted  bool  `json:"compacted"`
	Counted    int   `json:"counted"`
	SnapshotID int64 `json:"snapshot_id,omitempty"`
	Deleted    int   `json:"deleted"`
}

func (r compactResult) String() string {
	if !r.Compacted {
		return fmt.Sprintf("skipped: %d updates", r.Counted)
	}
	return fmt.Sprintf("compacted %d updates into snapshot %d (%d deleted)", r.Counted, r.SnapshotID, r.Deleted)
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact <doc>",
		Short: "Fold a document's update log into a snapshot",
		Long: `Run one compaction attempt for a document.

The update log is folded into a new snapshot when it holds at least the
threshold number of records; the folded records are then deleted.

Example:
  docsync compact notes
  docsync compact notes --threshold 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Threshold, "threshold", 0, "minimum update records to compact (default from config)")

	return cmd
}

func runCompact(cmd *cobra.Command, opts *CompactOptions, docID string) error {
	out := opts.formatter(cmd)
	docID = store.CanonicalID(docID)
	if opts.Threshold < 0 {
		_ = out.Error(docID, CodeInput, "threshold must not be negative")
		return NewExitError(ExitCommandError, "threshold must not be negative")
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		_ = out.Error(docID, CodeDatabase, err.Error())
		return err
	}
	ctx := commandContext(cmd)
	defer sess.Close(ctx)

	cfg := opts.Config.ProviderConfig()
	if opts.Threshold > 0 {
		cfg.CompactionThreshold = opts.Threshold
	}
	popts := append(sess.providerOptions(), provider.WithConfig(cfg))

	p := provider.New(crdt.New(), sess.store, docID, popts...)
	r := p.Compact(ctx)

	return out.Success(docID, compactResult{
		Compacted:  !r.Skipped,
		Counted:    r.Counted,
		SnapshotID: r.SnapshotID,
		Deleted:    r.Deleted,
	})
}
