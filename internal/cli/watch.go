package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/store"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string

	// Ready is called once the document is loaded and changes are being
	// streamed, with the metrics listener address if one was started
	// (for testing).
	Ready func(metricsAddr string)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&WatchOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <doc>",
		Short: "Stream changes other sessions make to a document",
		Long: `Load a document and print every change that arrives from other sessions
until interrupted. The document is released (and compacted) on exit.

Example:
  docsync watch notes
  docsync watch notes --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, docID string) error {
	out := opts.formatter(cmd)
	docID = store.CanonicalID(docID)
	logger := opts.Logger

	sess, err := openSession(opts.RootOptions)
	if err != nil {
		_ = out.Error(docID, CodeDatabase, err.Error())
		return err
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = opts.Config.MetricsAddr
	}
	var boundAddr string
	if addr != "" {
		srv, bound, err := serveMetrics(addr)
		if err != nil {
			sess.Close(context.WithoutCancel(ctx))
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
		boundAddr = bound
		logger.Info("serving metrics", "addr", bound)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	doc := crdt.New()
	if _, err := sess.registry.Acquire(ctx, doc, docID); err != nil {
		sess.Close(context.WithoutCancel(ctx))
		return WrapExitError(ExitFailure, "failed to open document", err)
	}

	stream := &OutputFormatter{Format: opts.Format, Writer: &lockedWriter{w: cmd.OutOrStdout()}}
	listener := streamChanges(doc, stream, docID, logger)

	if opts.Ready != nil {
		opts.Ready(boundAddr)
	}
	<-ctx.Done()

	doc.OffChange(listener)
	if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
		return WrapExitError(ExitFailure, "failed to release document", err)
	}
	logger.Info("watch stopped", "doc", docID)
	return nil
}

// streamChanges prints the current values of doc and then every remote
// change applied to it. The listener is registered before the values are
// read, so a change landing in between shows up in the dump, the stream, or
// both.
func streamChanges(doc *crdt.Doc, stream *OutputFormatter, docID string, logger *slog.Logger) crdt.ListenerID {
	listener := doc.OnChange(func(delta []byte, origin crdt.Origin) {
		if origin != crdt.Remote {
			return
		}
		entries, err := crdt.Decode(delta)
		if err != nil {
			logger.Warn("undecodable change", "error", err)
			return
		}
		for _, e := range entries {
			_ = stream.Success(docID, changeEvent{Key: e.Key, Value: e.Value, Deleted: e.Deleted})
		}
	})
	_ = stream.Success(docID, valuesResult(doc.Values()))
	return listener
}

// changeEvent is one remote entry change.
type changeEvent struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

func (e changeEvent) String() string {
	if e.Deleted {
		return fmt.Sprintf("- %s", e.Key)
	}
	return fmt.Sprintf("+ %s=%s", e.Key, e.Value)
}

// serveMetrics exposes the engine collectors on addr/metrics. It returns
// the bound address, which differs from addr when addr uses port 0.
func serveMetrics(addr string) (*http.Server, string, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, "", err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return srv, ln.Addr().String(), nil
}

// lockedWriter serializes writes from the subscription goroutine and the
// command goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
