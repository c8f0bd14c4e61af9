package worker

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Inflight tracks which instances have a workflow executing right now.
// Exactly one workflow may hold an instance at a time; commands issued
// against a held instance are rejected as busy.
type Inflight struct {
	mu   sync.Mutex
	held map[snowflake.ID]struct{}
}

func NewInflight() *Inflight {
	return &Inflight{held: make(map[snowflake.ID]struct{})}
}

func (f *Inflight) TryAcquire(id snowflake.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[id]; ok {
		return false
	}
	f.held[id] = struct{}{}
	return true
}

func (f *Inflight) Release(id snowflake.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, id)
}

func (f *Inflight) Held(id snowflake.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.held[id]
	return ok
}
