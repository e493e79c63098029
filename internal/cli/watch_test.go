package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/crdt"
)

// syncBuffer is a bytes.Buffer safe for one writer and one polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_StreamsRemoteChanges(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "test.db")

	_, err := runCLI(t, nil, "--db", db, "set", "doc-1", "existing", "yes")
	require.NoError(t, err)

	ready := make(chan string, 1)
	root := &RootOptions{Format: "text", ConfigPath: filepath.Join(dir, "none.yaml"), Database: db}
	opts := &WatchOptions{
		RootOptions: root,
		Ready:       func(addr string) { ready <- addr },
	}
	cmd := newWatchCommand(opts)
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"doc-1", "--metrics-addr", "127.0.0.1:0"})
	require.NoError(t, root.resolve(cmd))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- cmd.ExecuteContext(ctx) }()

	var metricsAddr string
	select {
	case metricsAddr = <-ready:
		require.NotEmpty(t, metricsAddr)
	case err := <-errc:
		t.Fatalf("watch exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not become ready")
	}
	assert.Equal(t, "existing=yes\n", out.String())

	// Another session edits the document.
	_, err = runCLI(t, nil, "--db", db, "set", "doc-1", "title", "Roadmap")
	require.NoError(t, err)
	_, err = runCLI(t, nil, "--db", db, "set", "doc-1", "existing", "--delete")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "+ title=Roadmap\n") && strings.Contains(s, "- existing\n")
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + metricsAddr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "docsync_provider_updates_applied_total")

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_MetricsAddrOptionIsFlagDefault(t *testing.T) {
	opts := &WatchOptions{RootOptions: &RootOptions{}, MetricsAddr: "127.0.0.1:9464"}
	cmd := newWatchCommand(opts)

	flag := cmd.Flags().Lookup("metrics-addr")
	require.NotNil(t, flag)
	assert.Equal(t, "127.0.0.1:9464", flag.DefValue)
	assert.Equal(t, "127.0.0.1:9464", opts.MetricsAddr)
}

func TestStreamChanges(t *testing.T) {
	doc := crdt.NewWithReplica("watcher")
	require.NoError(t, doc.Set("existing", "yes"))

	out := &syncBuffer{}
	stream := &OutputFormatter{Format: "text", Writer: out}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	listener := streamChanges(doc, stream, "doc-1", logger)
	assert.Equal(t, "existing=yes\n", out.String())

	// Local edits are not streamed.
	require.NoError(t, doc.Set("mine", "1"))
	require.NoError(t, doc.Apply(remoteDelta(t, "title", "Roadmap"), crdt.Remote))
	assert.Equal(t, "existing=yes\n+ title=Roadmap\n", out.String())

	doc.OffChange(listener)
	require.NoError(t, doc.Apply(remoteDelta(t, "later", "x"), crdt.Remote))
	assert.Equal(t, "existing=yes\n+ title=Roadmap\n", out.String())
}

// remoteDelta returns the delta another replica produces for one set.
func remoteDelta(t *testing.T, key, value string) []byte {
	t.Helper()
	src := crdt.NewWithReplica("remote")
	var delta []byte
	src.OnChange(func(d []byte, origin crdt.Origin) { delta = d })
	require.NoError(t, src.Set(key, value))
	return delta
}
