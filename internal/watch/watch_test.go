package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func startWatcher(t *testing.T, root string) *eventSink {
	t.Helper()
	w, err := New(root, nil, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	sink := &eventSink{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx, sink.add)
	time.Sleep(50 * time.Millisecond) // let the watcher register
	return sink
}

func TestRun_DeliversRubyFileChanges(t *testing.T) {
	root := t.TempDir()
	sink := startWatcher(t, root)

	path := filepath.Join(root, "a.rb")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, ev := range sink.snapshot() {
			if ev.Path == path && !ev.Removed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_IgnoresNonRubyFiles(t *testing.T) {
	root := t.TempDir()
	sink := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}

func TestRun_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	sink := startWatcher(t, root)

	path := filepath.Join(root, "a.rb")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1, "a write burst must settle to one event")
}

func TestRun_ReportsRemoval(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.rb")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
	sink := startWatcher(t, root)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		for _, ev := range sink.snapshot() {
			if ev.Path == path && ev.Removed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIsRubySource(t *testing.T) {
	assert.True(t, isRubySource("a.rb"))
	assert.True(t, isRubySource("Rakefile.rake"))
	assert.True(t, isRubySource("w.GEMSPEC"))
	assert.False(t, isRubySource("a.py"))
	assert.False(t, isRubySource("Gemfile"))
}
