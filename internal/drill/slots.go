package drill

import (
	"sync"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// op is a guarded operation kind.
type op int

const (
	opGenerate op = iota
	opGrade
)

func (o op) String() string {
	if o == opGenerate {
		return "generate"
	}
	return "grade"
}

type slotState struct {
	busy  [2]bool
	epoch uint64
}

// slotTable holds the in-flight flags and epoch of every (question, level).
// Flags reject a duplicate request of the same kind; the epoch lets a
// response detect that a newer operation started on the slot after it.
type slotTable struct {
	mu    sync.Mutex
	slots map[domain.SlotKey]*slotState
}

func newSlotTable() *slotTable {
	return &slotTable{slots: make(map[domain.SlotKey]*slotState)}
}

// begin marks o in flight and returns the new epoch. ok is false when o is
// already in flight for key.
func (t *slotTable) begin(key domain.SlotKey, o op) (epoch uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.slots[key]
	if !found {
		s = &slotState{}
		t.slots[key] = s
	}
	if s.busy[o] {
		return 0, false
	}
	s.busy[o] = true
	s.epoch++
	return s.epoch, true
}

// end clears the in-flight flag of o.
func (t *slotTable) end(key domain.SlotKey, o op) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[key]; ok {
		s.busy[o] = false
	}
}

// current reports whether epoch is still the newest for key.
func (t *slotTable) current(key domain.SlotKey, epoch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	return ok && s.epoch == epoch
}

// inFlight reports whether o is running for key.
func (t *slotTable) inFlight(key domain.SlotKey, o op) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	return ok && s.busy[o]
}
