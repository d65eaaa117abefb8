// Package coordinator overlaps order-insensitive image uploads with strictly
// ordered block appends. Uploads fan out across a bounded worker pool; append
// traffic for a page is funneled through a committer that releases slides in
// index order, one append in flight at a time.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/lectern/internal/blocks"
)

// Uploader pushes image bytes to the platform and returns a file upload ID.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
}

// Appender appends one batch of blocks to the end of a page.
type Appender interface {
	AppendChildren(ctx context.Context, pageID string, children []blocks.Block) error
}

// UploadPool bounds concurrent image uploads with a semaphore.
type UploadPool struct {
	uploader Uploader
	sem      chan struct{}
	logger   *slog.Logger
}

// NewUploadPool creates a pool with the given worker ceiling.
func NewUploadPool(uploader Uploader, workers int, logger *slog.Logger) *UploadPool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadPool{
		uploader: uploader,
		sem:      make(chan struct{}, workers),
		logger:   logger.With("component", "coordinator"),
	}
}

// Upload acquires a worker slot and uploads one image. It blocks while all
// slots are busy.
func (p *UploadPool) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.sem }()

	id, err := p.uploader.UploadImage(ctx, filename, data)
	if err != nil {
		return "", err
	}
	p.logger.Debug("image uploaded", "filename", filename, "upload_id", id)
	return id, nil
}

// OrderingViolation reports a commit that arrived out of contract: an index
// below the release cursor, or one committed twice. It is a programming
// error, so the committer panics with it rather than returning it.
type OrderingViolation struct {
	Index     int
	Next      int
	Duplicate bool
}

func (v *OrderingViolation) Error() string {
	if v.Duplicate {
		return fmt.Sprintf("ordering violation: index %d committed twice", v.Index)
	}
	return fmt.Sprintf("ordering violation: index %d is behind release cursor %d", v.Index, v.Next)
}

// Committer is the reorder buffer for one destination page. Commits may
// arrive in any order; their appends are released strictly by index. Because
// only the commit matching the release cursor may proceed, and the cursor
// advances only after its appends finish, appends never overlap.
type Committer struct {
	appender Appender
	pageID   string
	logger   *slog.Logger

	mu    sync.Mutex
	next  int
	seen  map[int]bool
	gates map[int]chan struct{}
}

// NewCommitter creates a committer whose first released index is start.
func NewCommitter(appender Appender, pageID string, start int, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{
		appender: appender,
		pageID:   pageID,
		logger:   logger.With("component", "coordinator", "page_id", pageID),
		next:     start,
		seen:     make(map[int]bool),
		gates:    make(map[int]chan struct{}),
	}
}

// Commit registers the batches for index and blocks until every earlier index
// has been released and this index's appends have run. Empty batches advance
// the cursor without touching the page, which is how a failed or excluded
// slide yields its turn. The returned error covers only this index's appends.
// A commit abandoned on context cancellation gives its slot back and may be
// committed again.
//
// Committing an index twice, or an index behind the cursor, panics with
// *OrderingViolation.
func (c *Committer) Commit(ctx context.Context, index int, batches [][]blocks.Block) error {
	c.mu.Lock()
	if index < c.next {
		c.mu.Unlock()
		panic(&OrderingViolation{Index: index, Next: c.next})
	}
	if c.seen[index] {
		c.mu.Unlock()
		panic(&OrderingViolation{Index: index, Duplicate: true})
	}
	c.seen[index] = true

	if index != c.next {
		gate := c.gate(index)
		c.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			// The cursor stays put; the pipeline is tearing down. Unregister
			// the index so a later retry is not mistaken for a duplicate.
			c.mu.Lock()
			delete(c.seen, index)
			c.mu.Unlock()
			return ctx.Err()
		}
	} else {
		c.mu.Unlock()
	}

	var err error
	for bi, batch := range batches {
		if aerr := c.appender.AppendChildren(ctx, c.pageID, batch); aerr != nil {
			err = fmt.Errorf("append batch %d of index %d: %w", bi+1, index, aerr)
			break
		}
	}

	c.mu.Lock()
	c.next = index + 1
	if gate, ok := c.gates[c.next]; ok {
		close(gate)
		delete(c.gates, c.next)
	}
	c.mu.Unlock()

	c.logger.Debug("released index", "index", index, "batches", len(batches))
	return err
}

// gate returns the release channel for index, creating it if needed.
// Caller holds mu.
func (c *Committer) gate(index int) chan struct{} {
	gate, ok := c.gates[index]
	if !ok {
		gate = make(chan struct{})
		c.gates[index] = gate
	}
	return gate
}
