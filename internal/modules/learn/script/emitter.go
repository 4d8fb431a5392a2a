package script

import (
	"context"
	"errors"
	"sync"
)

// ErrClientGone is returned by an Emitter whose consumer has disconnected.
var ErrClientGone = errors.New("script: client gone")

// Emitter forwards DTOs to the consumer in program order.
type Emitter interface {
	Emit(ctx context.Context, dto DTO) error
}

type EmitterFunc func(ctx context.Context, dto DTO) error

func (f EmitterFunc) Emit(ctx context.Context, dto DTO) error { return f(ctx, dto) }

// Collector buffers every DTO. With GoneAfter > 0 it reports ErrClientGone once that
// many DTOs were accepted.
type Collector struct {
	GoneAfter int

	mu   sync.Mutex
	dtos []DTO
}

func (c *Collector) Emit(_ context.Context, dto DTO) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GoneAfter > 0 && len(c.dtos) >= c.GoneAfter {
		return ErrClientGone
	}
	c.dtos = append(c.dtos, dto)
	return nil
}

func (c *Collector) DTOs() []DTO {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DTO, len(c.dtos))
	copy(out, c.dtos)
	return out
}

// Types lists the emitted DTO types in order.
func (c *Collector) Types() []DTOType {
	dtos := c.DTOs()
	out := make([]DTOType, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.Type)
	}
	return out
}

func (c *Collector) Reset() {
	c.mu.Lock()
	c.dtos = nil
	c.mu.Unlock()
}
