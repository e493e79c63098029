package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/provider"
	"github.com/roach88/docsync/internal/store"
)

// valuesResult prints as sorted key=value lines.
type valuesResult map[string]string

func (r valuesResult) String() string {
	if len(r) == 0 {
		return "(empty)"
	}
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=%s", k, r[k])
	}
	return b.String()
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <doc> [key]",
		Short: "Print a document's values",
		Long: `Load a document from its snapshot and update log and print its values.

The document is only read: nothing is published and no compaction runs.

Example:
  docsync get notes
  docsync get notes title --format json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			}
			return runGet(cmd, rootOpts, args[0], key)
		},
	}
	return cmd
}

func runGet(cmd *cobra.Command, opts *RootOptions, docID, key string) error {
	out := opts.formatter(cmd)
	docID = store.CanonicalID(docID)

	sess, err := openSession(opts)
	if err != nil {
		_ = out.Error(docID, CodeDatabase, err.Error())
		return err
	}
	ctx := commandContext(cmd)
	defer sess.Close(ctx)

	// A bare provider, not the registry: releasing through the registry
	// would compact.
	doc := crdt.New()
	p := provider.New(doc, sess.store, docID, sess.providerOptions()...)
	p.Connect(ctx)
	p.Disconnect()

	values := doc.Values()
	if key == "" {
		return out.Success(docID, valuesResult(values))
	}

	v, ok := values[key]
	if !ok {
		msg := fmt.Sprintf("key %q not found", key)
		_ = out.Error(docID, CodeNotFound, msg)
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(docID, valuesResult{key: v})
}
