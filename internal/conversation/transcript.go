// Package conversation maintains the append-only lecture transcript that is
// replayed to the model on every call. The transcript is the model's memory:
// each slide is explained with awareness of every slide before it.
package conversation

import (
	"fmt"
	"sync"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single transcript entry. User turns for slides carry the slide
// image; system and assistant turns are text only.
type Turn struct {
	Role       Role
	Text       string
	Image      []byte // slide image payload, user turns only
	SlideIndex int    // 1-based slide index; 0 for the system turn
}

// Transcript is an ordered, append-only sequence of turns. Exactly one system
// turn exists and it is always first. Appends are the only mutators; turns are
// never deleted or reordered. Growth is unbounded: fidelity of the lecture
// context wins over cost (see DESIGN.md).
type Transcript struct {
	mu    sync.Mutex
	turns []Turn

	// Sequential-lane bookkeeping. lastIndex is the highest slide index that
	// has been resolved (answered or skipped); pending is the slide index of
	// a user turn still awaiting its assistant turn, or 0 if none.
	lastIndex int
	pending   int

	assistantTurns int
	skipped        []int
}

// New creates a transcript seeded with the system instruction.
func New(instruction string) *Transcript {
	return &Transcript{
		turns: []Turn{{Role: RoleSystem, Text: instruction}},
	}
}

// AppendUser records a slide submission. Slide indices must arrive in strictly
// increasing order and the previous slide must be resolved first.
func (t *Transcript) AppendUser(image []byte, text string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != 0 {
		return fmt.Errorf("slide %d still awaiting a response, cannot submit slide %d", t.pending, index)
	}
	if index <= t.lastIndex {
		return fmt.Errorf("slide %d submitted out of order (last resolved: %d)", index, t.lastIndex)
	}

	t.turns = append(t.turns, Turn{Role: RoleUser, Text: text, Image: image, SlideIndex: index})
	t.pending = index
	return nil
}

// AppendAssistant records the model's response for the pending slide.
func (t *Transcript) AppendAssistant(text string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != index {
		return fmt.Errorf("no pending submission for slide %d (pending: %d)", index, t.pending)
	}

	t.turns = append(t.turns, Turn{Role: RoleAssistant, Text: text, SlideIndex: index})
	t.lastIndex = index
	t.pending = 0
	t.assistantTurns++
	return nil
}

// RecordSkip resolves a slide without adding turns. Used when a slide's
// analysis failed or the slide was excluded, so later slides may proceed.
func (t *Transcript) RecordSkip(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != 0 && t.pending != index {
		return fmt.Errorf("cannot skip slide %d while slide %d is pending", index, t.pending)
	}
	if t.pending == 0 && index <= t.lastIndex {
		return fmt.Errorf("slide %d skipped out of order (last resolved: %d)", index, t.lastIndex)
	}

	// A pending user turn stays in the transcript; it simply never gets an
	// assistant turn. The model sees the slide but no explanation exists.
	t.lastIndex = index
	t.pending = 0
	t.skipped = append(t.skipped, index)
	return nil
}

// Snapshot returns a copy of the turns for transmission. The copy shares the
// image byte slices (slides are immutable once rasterized).
func (t *Transcript) Snapshot() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns including the system turn.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

// AssistantTurns returns how many assistant turns have been recorded.
func (t *Transcript) AssistantTurns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assistantTurns
}

// Skipped returns the slide indices resolved without a response.
func (t *Transcript) Skipped() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.skipped))
	copy(out, t.skipped)
	return out
}
