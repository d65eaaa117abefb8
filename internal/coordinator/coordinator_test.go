package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/lectern/internal/blocks"
)

type fakeAppender struct {
	mu       sync.Mutex
	appends  []string // first run text of each appended batch
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	fail     map[string]error
	delay    time.Duration
}

func (f *fakeAppender) AppendChildren(ctx context.Context, pageID string, children []blocks.Block) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	label := ""
	if len(children) > 0 && len(children[0].RichText) > 0 {
		label = children[0].RichText[0].Text
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[label]; ok {
		return err
	}
	f.appends = append(f.appends, label)
	return nil
}

func batchFor(label string) [][]blocks.Block {
	return [][]blocks.Block{{blocks.Paragraph(blocks.TextRun(label))}}
}

func TestCommitterReleasesInIndexOrder(t *testing.T) {
	const n = 12

	app := &fakeAppender{delay: time.Millisecond}
	c := NewCommitter(app, "page-1", 0, nil)

	indices := rand.New(rand.NewSource(7)).Perm(n)

	var wg sync.WaitGroup
	for _, idx := range indices {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			// Stagger arrivals so commits genuinely interleave.
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			if err := c.Commit(context.Background(), idx, batchFor(fmt.Sprintf("slide-%02d", idx))); err != nil {
				t.Errorf("Commit(%d) error = %v", idx, err)
			}
		}(idx)
	}
	wg.Wait()

	if len(app.appends) != n {
		t.Fatalf("appends = %d, want %d", len(app.appends), n)
	}
	for i, label := range app.appends {
		want := fmt.Sprintf("slide-%02d", i)
		if label != want {
			t.Fatalf("append %d = %q, want %q (full order: %v)", i, label, want, app.appends)
		}
	}
	if app.maxSeen.Load() != 1 {
		t.Fatalf("appends overlapped: max in flight = %d", app.maxSeen.Load())
	}
}

func TestCommitterMultipleBatchesStayContiguous(t *testing.T) {
	app := &fakeAppender{}
	c := NewCommitter(app, "page-1", 0, nil)

	done := make(chan error, 1)
	go func() {
		done <- c.Commit(context.Background(), 1, batchFor("b"))
	}()

	// Index 1 must not release until index 0 does, however long it waits.
	time.Sleep(20 * time.Millisecond)
	if len(app.appends) != 0 {
		t.Fatalf("index 1 released early: %v", app.appends)
	}

	if err := c.Commit(context.Background(), 0, [][]blocks.Block{
		{blocks.Paragraph(blocks.TextRun("a1"))},
		{blocks.Paragraph(blocks.TextRun("a2"))},
	}); err != nil {
		t.Fatalf("Commit(0) error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Commit(1) error = %v", err)
	}

	want := []string{"a1", "a2", "b"}
	for i, label := range app.appends {
		if label != want[i] {
			t.Fatalf("appends = %v, want %v", app.appends, want)
		}
	}
}

func TestCommitterEmptyBatchesAdvanceCursor(t *testing.T) {
	app := &fakeAppender{}
	c := NewCommitter(app, "page-1", 0, nil)

	// Slide 0 failed upstream; it yields its turn with no batches.
	if err := c.Commit(context.Background(), 0, nil); err != nil {
		t.Fatalf("Commit(0) error = %v", err)
	}
	if err := c.Commit(context.Background(), 1, batchFor("survivor")); err != nil {
		t.Fatalf("Commit(1) error = %v", err)
	}

	if len(app.appends) != 1 || app.appends[0] != "survivor" {
		t.Fatalf("appends = %v", app.appends)
	}
}

func TestCommitterAppendErrorIsScopedToIndex(t *testing.T) {
	sentinel := errors.New("append rejected")
	app := &fakeAppender{fail: map[string]error{"bad": sentinel}}
	c := NewCommitter(app, "page-1", 0, nil)

	err := c.Commit(context.Background(), 0, batchFor("bad"))
	if !errors.Is(err, sentinel) {
		t.Fatalf("Commit(0) error = %v, want %v", err, sentinel)
	}

	// The failure must not wedge the cursor.
	if err := c.Commit(context.Background(), 1, batchFor("good")); err != nil {
		t.Fatalf("Commit(1) error = %v", err)
	}
	if len(app.appends) != 1 || app.appends[0] != "good" {
		t.Fatalf("appends = %v", app.appends)
	}
}

func TestCommitterPanicsOnOrderingViolation(t *testing.T) {
	t.Run("index behind cursor", func(t *testing.T) {
		c := NewCommitter(&fakeAppender{}, "page-1", 0, nil)
		if err := c.Commit(context.Background(), 0, nil); err != nil {
			t.Fatal(err)
		}

		defer func() {
			v, ok := recover().(*OrderingViolation)
			if !ok {
				t.Fatalf("expected *OrderingViolation panic, got %v", v)
			}
			if v.Index != 0 || v.Next != 1 {
				t.Fatalf("violation = %+v", v)
			}
		}()
		_ = c.Commit(context.Background(), 0, nil)
	})

	t.Run("duplicate pending index", func(t *testing.T) {
		c := NewCommitter(&fakeAppender{}, "page-1", 0, nil)
		go func() {
			_ = c.Commit(context.Background(), 2, nil)
		}()
		time.Sleep(10 * time.Millisecond)

		defer func() {
			v, ok := recover().(*OrderingViolation)
			if !ok {
				t.Fatalf("expected *OrderingViolation panic, got %v", v)
			}
			if !v.Duplicate {
				t.Fatalf("violation = %+v", v)
			}
		}()
		_ = c.Commit(context.Background(), 2, nil)
	})
}

func TestCommitterContextCancellationWhileWaiting(t *testing.T) {
	c := NewCommitter(&fakeAppender{}, "page-1", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Commit(ctx, 5, batchFor("never"))
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled commit never returned")
	}
}

func TestCommitterCancelledCommitCanBeRetried(t *testing.T) {
	app := &fakeAppender{}
	c := NewCommitter(app, "page-1", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Commit(ctx, 1, batchFor("second"))
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	// The abandoned slot must not read as a duplicate, and the cursor must
	// still be able to pass it.
	if err := c.Commit(context.Background(), 0, batchFor("first")); err != nil {
		t.Fatalf("Commit(0) error = %v", err)
	}
	if err := c.Commit(context.Background(), 1, batchFor("second")); err != nil {
		t.Fatalf("Commit(1) retry error = %v", err)
	}

	want := []string{"first", "second"}
	if len(app.appends) != len(want) {
		t.Fatalf("appends = %v, want %v", app.appends, want)
	}
	for i, label := range app.appends {
		if label != want[i] {
			t.Fatalf("appends = %v, want %v", app.appends, want)
		}
	}
}

type fakeUploader struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (f *fakeUploader) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	f.calls.Add(1)
	return "upload-" + filename, nil
}

func TestUploadPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	up := &fakeUploader{}
	pool := NewUploadPool(up, workers, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := pool.Upload(context.Background(), fmt.Sprintf("s%d.png", i), []byte("png"))
			if err != nil {
				t.Errorf("Upload error = %v", err)
			}
			if id == "" {
				t.Error("empty upload id")
			}
		}(i)
	}
	wg.Wait()

	if up.calls.Load() != 10 {
		t.Fatalf("calls = %d, want 10", up.calls.Load())
	}
	if up.maxSeen.Load() > workers {
		t.Fatalf("max concurrent uploads = %d, ceiling %d", up.maxSeen.Load(), workers)
	}
}

func TestUploadPoolHonorsCancellation(t *testing.T) {
	up := &fakeUploader{}
	pool := NewUploadPool(up, 1, nil)

	// Occupy the only slot.
	release := make(chan struct{})
	go func() {
		_, _ = pool.Upload(context.Background(), "hold.png", []byte("png"))
		close(release)
	}()
	time.Sleep(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Upload(ctx, "blocked.png", []byte("png")); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	<-release
}
