package auth

import (
	"sync"
	"time"
)

// Denylist holds revoked token ids until their expiry.
type Denylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewDenylist() *Denylist {
	return &Denylist{entries: make(map[string]time.Time), now: time.Now}
}

func (d *Denylist) Add(id string, expiresAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()
	d.entries[id] = expiresAt
}

func (d *Denylist) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.entries[id]
	if !ok {
		return false
	}
	if !d.now().Before(exp) {
		delete(d.entries, id)
		return false
	}
	return true
}

func (d *Denylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()
	return len(d.entries)
}

func (d *Denylist) pruneLocked() {
	now := d.now()
	for id, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, id)
		}
	}
}
