package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/store"
)

type snapshotInfo struct {
	ID          int64     `json:"id"`
	UpdateCount int       `json:"update_count"`
	Bytes       int       `json:"bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

type dumpResult struct {
	Updates   int           `json:"updates"`
	Snapshots int           `json:"snapshots"`
	Latest    *snapshotInfo `json:"latest_snapshot,omitempty"`
}

func (r dumpResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "updates:   %d\n", r.Updates)
	fmt.Fprintf(&b, "snapshots: %d", r.Snapshots)
	if r.Latest != nil {
		fmt.Fprintf(&b, "\nlatest:    id=%d update_count=%d bytes=%d created_at=%s",
			r.Latest.ID, r.Latest.UpdateCount, r.Latest.Bytes, r.Latest.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	return b.String()
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <doc>",
		Short: "Show a document's stored records",
		Long: `Show how many update and snapshot records a document has, and describe
its latest snapshot.

Example:
  docsync dump notes --db ./docs.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runDump(cmd *cobra.Command, opts *RootOptions, docID string) error {
	out := opts.formatter(cmd)
	docID = store.CanonicalID(docID)

	st, err := store.Open(opts.Config.Database, opts.Config.StoreOptions()...)
	if err != nil {
		_ = out.Error(docID, CodeDatabase, err.Error())
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	var result dumpResult
	if result.Updates, err = st.Count(ctx, docID, store.KindUpdate); err != nil {
		return WrapExitError(ExitCommandError, "failed to count updates", err)
	}
	if result.Snapshots, err = st.Count(ctx, docID, store.KindSnapshot); err != nil {
		return WrapExitError(ExitCommandError, "failed to count snapshots", err)
	}

	latest, ok, err := st.ReadLatest(ctx, docID, store.KindSnapshot)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	if ok {
		result.Latest = &snapshotInfo{
			ID:          latest.ID,
			UpdateCount: latest.UpdateCount,
			Bytes:       len(latest.Payload),
			CreatedAt:   latest.CreatedAt.UTC(),
		}
	}

	return out.Success(docID, result)
}
