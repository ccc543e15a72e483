// Package command provides the poll-based side channel through which an
// external controller requests pause or stop of a running engine.
//
// The engine never reacts to commands asynchronously: it polls the
// channel at safe points (before each node dispatch and at iteration
// pass boundaries). Delivery is at-most-once per command.
package command

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Kind identifies a command variant.
type Kind string

// Command kinds. Stop is accepted for compatibility with external
// controllers but is honored as a pause: the engine never discards
// in-flight work destructively.
const (
	KindPause Kind = "pause"
	KindStop  Kind = "stop"
)

// Command is a small tagged value requesting an engine action.
type Command struct {
	Kind      Kind   `json:"kind"`
	RequestID string `json:"request_id"`
	Sender    string `json:"sender,omitempty"`
}

// NewPause creates a pause command with a fresh request id.
func NewPause() Command {
	return Command{Kind: KindPause, RequestID: uuid.New().String()}
}

// NewStop creates a stop command with a fresh request id.
func NewStop() Command {
	return Command{Kind: KindStop, RequestID: uuid.New().String()}
}

// Channel transports commands from an external controller to an engine.
// Implementations must be safe for concurrent use. Fetch drains pending
// commands; a fetched command is never delivered again.
type Channel interface {
	// Fetch returns pending commands, removing them from the channel.
	// A transport error is not fatal to the run: the engine treats it
	// as "no command pending" for that poll.
	Fetch(ctx context.Context) ([]Command, error)

	// Send enqueues a command for the next poll.
	Send(ctx context.Context, cmd Command) error
}

// InMemory is an in-process Channel backed by a mutex-guarded queue.
type InMemory struct {
	mu      sync.Mutex
	pending []Command
}

// NewInMemory creates an empty in-process command channel.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Send implements Channel.
func (c *InMemory) Send(_ context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, cmd)
	return nil
}

// Fetch implements Channel. It returns and clears all pending commands.
func (c *InMemory) Fetch(_ context.Context) ([]Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out, nil
}
