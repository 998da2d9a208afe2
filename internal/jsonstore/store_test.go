package jsonstore

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

type item struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func tail(s *Store, name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tails[name]
}

// hold occupies name until the returned func is called.
func hold(t *testing.T, s *Store, name string) func() {
	t.Helper()
	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = Mutate(context.Background(), s, name, func(items []item) ([]item, bool, error) {
			close(entered)
			<-done
			return items, false, nil
		})
	}()
	<-entered
	return func() { close(done) }
}

func TestRead_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	assert.Empty(t, Read[item](s, "missing.json"))
	assert.NotNil(t, Read[item](s, "missing.json"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))
	assert.Empty(t, Read[item](s, "bad.json"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "null.json"), []byte("null"), 0o644))
	assert.NotNil(t, Read[item](s, "null.json"))
}

func TestWriteThenRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s := New(dir)
	ctx := context.Background()

	require.NoError(t, Write(ctx, s, "items.json", []item{{ID: "a", Count: 1}}))
	assert.Equal(t, []item{{ID: "a", Count: 1}}, Read[item](s, "items.json"))

	raw, err := os.ReadFile(filepath.Join(dir, "items.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  {\n    \"id\": \"a\"")

	info, err := os.Stat(filepath.Join(dir, "items.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestAppend_ReturnsFullList(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	list, err := Append(ctx, s, "items.json", item{ID: "a"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = Append(ctx, s, "items.json", item{ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: "a"}, {ID: "b"}}, list)
	assert.Equal(t, list, Read[item](s, "items.json"))
}

func TestAppend_ConcurrentNoLostUpdates(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, Write(ctx, s, "items.json", []item{{ID: "seed-1"}, {ID: "seed-2"}}))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Append(ctx, s, "items.json", item{Count: i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, Read[item](s, "items.json"), 2+n)
}

func TestUpdate_MatchMutatesFirst(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, Write(ctx, s, "items.json", []item{{ID: "a"}, {ID: "b"}, {ID: "b"}}))

	got, err := Update(ctx, s, "items.json",
		func(it item) bool { return it.ID == "b" },
		func(it *item) { it.Count = 9 })
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 9, got.Count)
	assert.Equal(t, []item{{ID: "a"}, {ID: "b", Count: 9}, {ID: "b"}}, Read[item](s, "items.json"))
}

func TestUpdate_NoMatchLeavesBytesUnchanged(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	// Hand-written formatting that a rewrite would normalize.
	original := []byte(`[{"id":"a","count":1}]`)
	path := filepath.Join(dir, "items.json")
	require.NoError(t, os.WriteFile(path, original, 0o644))
	before, err := os.Stat(path)
	require.NoError(t, err)

	got, err := Update(context.Background(), s, "items.json",
		func(it item) bool { return it.ID == "zzz" },
		func(it *item) { it.Count = 100 })
	require.NoError(t, err)
	assert.Nil(t, got)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, after)
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), st.ModTime())
}

func TestUpdate_MissingResource(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	got, err := Update(context.Background(), s, "none.json",
		func(item) bool { return true }, func(*item) {})
	require.NoError(t, err)
	assert.Nil(t, got)
	_, statErr := os.Stat(filepath.Join(dir, "none.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMutate_FIFOOrder(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	release := hold(t, s, "items.json")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		prev := tail(s, "items.json")
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Append(ctx, s, "items.json", item{Count: i})
			assert.NoError(t, err)
		}(i)
		// Wait until this append is queued before submitting the next.
		require.Eventually(t, func() bool { return tail(s, "items.json") != prev },
			time.Second, time.Millisecond)
	}
	release()
	wg.Wait()

	got := Read[item](s, "items.json")
	require.Len(t, got, 5)
	for i, it := range got {
		assert.Equal(t, i, it.Count)
	}
}

func TestMutate_IndependentResources(t *testing.T) {
	s := New(t.TempDir())
	release := hold(t, s, "a.json")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Append(ctx, s, "b.json", item{ID: "x"})
	require.NoError(t, err)
}

func TestMutate_ErrorAndPanicReleaseSlot(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	err := Mutate(ctx, s, "items.json", func(items []item) ([]item, bool, error) {
		return nil, false, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	assert.Panics(t, func() {
		_ = Mutate(ctx, s, "items.json", func(items []item) ([]item, bool, error) {
			panic("boom")
		})
	})

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = Append(ctx, s, "items.json", item{ID: "after"})
	require.NoError(t, err)
	assert.Len(t, Read[item](s, "items.json"), 1)
}

func TestMutate_CancelledWhileQueuedKeepsChain(t *testing.T) {
	s := New(t.TempDir())
	release := hold(t, s, "items.json")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	prev := tail(s, "items.json")
	go func() {
		_, err := Append(ctx, s, "items.json", item{ID: "cancelled"})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return tail(s, "items.json") != prev }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	done := make(chan error, 1)
	go func() {
		_, err := Append(context.Background(), s, "items.json", item{ID: "later"})
		done <- err
	}()
	release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after a cancelled waiter")
	}
	assert.Equal(t, []item{{ID: "later"}}, Read[item](s, "items.json"))
}

func TestObserver(t *testing.T) {
	var mu sync.Mutex
	var ops []string
	s := New(t.TempDir(), WithObserver(func(op, resource string, _ time.Duration) {
		mu.Lock()
		ops = append(ops, op+":"+resource)
		mu.Unlock()
	}))
	ctx := context.Background()
	require.NoError(t, Write(ctx, s, "a.json", []item{}))
	_, err := Append(ctx, s, "a.json", item{})
	require.NoError(t, err)

	assert.Equal(t, []string{"write:a.json", "mutate:a.json"}, ops)
}
