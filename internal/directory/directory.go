// Package directory resolves user ids to display names.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a user id has no display name.
var ErrNotFound = errors.New("directory: user not found")

// Static is an in-memory directory, typically loaded from the config file.
type Static struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewStatic copies names into a new directory.
func NewStatic(names map[string]string) *Static {
	d := &Static{names: make(map[string]string, len(names))}
	for id, name := range names {
		d.names[id] = name
	}
	return d
}

// DisplayName returns the display name of userID.
func (d *Static) DisplayName(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[userID]
	if !ok || name == "" {
		return "", ErrNotFound
	}
	return name, nil
}

// Set adds or replaces the display name of userID.
func (d *Static) Set(userID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[userID] = name
}
