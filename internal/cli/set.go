package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/store"
)

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	Delete bool
}

type setResult struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

func (r setResult) String() string {
	if r.Deleted {
		return fmt.Sprintf("deleted %s", r.Key)
	}
	return fmt.Sprintf("set %s=%s", r.Key, r.Value)
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <doc> <key> [value]",
		Short: "Write or delete one key of a document",
		Long: `Write one key of a document and publish the change to its update log.

The document is released afterwards, which compacts its log once it has
grown past the configured threshold.

Example:
  docsync set notes title "Q3 roadmap"
  docsync set notes title --delete`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Delete {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 3 {
				value = args[2]
			}
			return runSet(cmd, opts, args[0], args[1], value)
		},
	}

	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the key instead of writing it")

	return cmd
}

func runSet(cmd *cobra.Command, opts *SetOptions, docID, key, value string) error {
	out := opts.formatter(cmd)
	docID = store.CanonicalID(docID)
	if key == "" {
		_ = out.Error(docID, CodeInput, "key must not be empty")
		return NewExitError(ExitCommandError, "key must not be empty")
	}

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		_ = out.Error(docID, CodeDatabase, err.Error())
		return err
	}
	ctx := commandContext(cmd)
	defer sess.Close(context.WithoutCancel(ctx))

	doc := crdt.New()
	p, err := sess.registry.Acquire(ctx, doc, docID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open document", err)
	}

	if opts.Delete {
		err = doc.Delete(key)
	} else {
		err = doc.Set(key, value)
	}
	if err != nil {
		_ = out.Error(docID, CodeInput, err.Error())
		return WrapExitError(ExitCommandError, "invalid edit", err)
	}

	// Publishing is best-effort inside the provider; a command has to
	// report it.
	if p.Stats().PublishFailures > 0 {
		_ = out.Error(docID, CodeDatabase, "change was not persisted")
		return NewExitError(ExitFailure, "change was not persisted")
	}

	if err := sess.registry.ReleaseAndWait(ctx, docID); err != nil {
		return WrapExitError(ExitFailure, "failed to release document", err)
	}

	return out.Success(docID, setResult{Key: key, Value: value, Deleted: opts.Delete})
}

// commandContext returns the command's context, or Background when the
// command runs without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
