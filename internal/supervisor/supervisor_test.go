package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingScript writes one line to path every time it runs, then exits
// with code, so the test can count restarts without depending on a
// particular shell's startup cost.
func countingScript(t *testing.T, dir string, code int) string {
	t.Helper()
	counter := filepath.Join(dir, "count")
	script := filepath.Join(dir, "run.sh")
	content := fmt.Sprintf("#!/bin/sh\necho x >> \"%s\"\nexit %d\n", counter, code)
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func countRuns(t *testing.T, dir string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "count"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, b := range data {
		if b == 'x' {
			n++
		}
	}
	return n
}

func TestSupervisor_RestartsFailingChild(t *testing.T) {
	dir := t.TempDir()
	script := countingScript(t, dir, 1)

	s := New("/bin/sh", []ChildSpec{{Name: "child", Args: []string{script}}})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, countRuns(t, dir), 2, "expected the failing child to be restarted at least once")
}

func TestSupervisor_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	script := countingScript(t, dir, 0)

	s := New("/bin/sh", []ChildSpec{{Name: "child", Args: []string{script}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
