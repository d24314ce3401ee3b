package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/store"
	"github.com/roach88/pwasync/internal/testutil"
)

// testEnv is a temp directory holding a database and a config file.
type testEnv struct {
	dir    string
	db     string
	config string
}

// newTestEnv writes a config pointing at a fresh database. serverURL may
// be empty.
func newTestEnv(t *testing.T, serverURL string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		db:     filepath.Join(dir, "queue.db"),
		config: filepath.Join(dir, "pwasync.yaml"),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "database: %s\n", env.db)
	b.WriteString("device_id: tablet-7\n")
	if serverURL != "" {
		fmt.Fprintf(&b, "server:\n  url: %s/actions\n  timeout: 2s\n", serverURL)
	}
	require.NoError(t, os.WriteFile(env.config, []byte(b.String()), 0o644))
	return env
}

type seedItem struct {
	topic   string
	payload string
}

// seed enqueues items directly through the store with deterministic ids
// ("a-1", ...) one second apart starting at testutil.Epoch. Call it once
// per env.
func (e *testEnv) seed(t *testing.T, items ...seedItem) {
	t.Helper()
	clock := testutil.NewManualClock()
	st, err := store.Open(e.db,
		store.WithClock(clock.Now),
		store.WithIDGenerator(action.NewSequenceGenerator("a")),
	)
	require.NoError(t, err)
	defer st.Close()

	for _, it := range items {
		_, err := st.Enqueue(t.Context(), it.topic, action.Payload(it.payload))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
}

// run executes the root command with --config prepended.
func (e *testEnv) run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	err = cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}
