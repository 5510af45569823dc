package credential

import (
	"context"
	"sync"
)

// Area is one storage durability. Implementations must treat Load of an empty
// area as (Pair{}, false, nil).
type Area interface {
	Load(ctx context.Context) (Pair, bool, error)
	Save(ctx context.Context, p Pair) error
	Clear(ctx context.Context) error
}

// MemoryArea keeps a pair in process memory.
type MemoryArea struct {
	mu   sync.Mutex
	pair *Pair
}

// NewMemoryArea returns an empty in-memory area.
func NewMemoryArea() *MemoryArea { return &MemoryArea{} }

func (a *MemoryArea) Load(ctx context.Context) (Pair, bool, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pair == nil {
		return Pair{}, false, nil
	}
	return *a.pair, true, nil
}

func (a *MemoryArea) Save(ctx context.Context, p Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := p
	a.pair = &cp
	return nil
}

func (a *MemoryArea) Clear(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pair = nil
	return nil
}
