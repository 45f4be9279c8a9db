// Package presence keeps the live location of connected field managers.
//
// State is memory only and is lost on restart. Every operation updates the
// location map, the connection bindings and the owner index inside one
// critical section, so a manager listed under an owner always has a
// location entry and no owner set is ever left empty.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidReport = errors.New("invalid location report")

// Report is the last known position of one manager device.
type Report struct {
	ManagerID string    `json:"managerId" validate:"required"`
	OwnerID   string    `json:"ownerId" validate:"required"`
	Latitude  float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp time.Time `json:"timestamp"`
	SiteID    string    `json:"siteId,omitempty"`
}

var validate = validator.New()

// Validate checks the identity fields and coordinate ranges.
func (r Report) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	return nil
}

type Registry struct {
	mu        sync.RWMutex
	locations map[string]Report              // managerID -> latest report
	conns     map[string]string              // connectionID -> managerID
	owners    map[string]map[string]struct{} // ownerID -> managerIDs
}

func NewRegistry() *Registry {
	return &Registry{
		locations: make(map[string]Report),
		conns:     make(map[string]string),
		owners:    make(map[string]map[string]struct{}),
	}
}

// Upsert stores r as the latest location of r.ManagerID and binds connID
// to that manager. An invalid report leaves the registry untouched.
func (g *Registry) Upsert(connID string, r Report) error {
	if err := r.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// 同じ接続が別の managerId で送ってきた場合は後勝ち
	if prev, ok := g.conns[connID]; ok && prev != r.ManagerID {
		delete(g.conns, connID)
		if !g.boundLocked(prev) {
			g.dropLocked(prev)
		}
	}

	if old, ok := g.locations[r.ManagerID]; ok && old.OwnerID != r.OwnerID {
		g.unindexLocked(old.OwnerID, r.ManagerID)
	}

	g.locations[r.ManagerID] = r
	g.conns[connID] = r.ManagerID

	set, ok := g.owners[r.OwnerID]
	if !ok {
		set = make(map[string]struct{})
		g.owners[r.OwnerID] = set
	}
	set[r.ManagerID] = struct{}{}
	return nil
}

// Remove unbinds connID and deletes the bound manager's location entry.
// The one exception is a reconnect: when a device reconnects before its old
// socket times out, the old and new connections are briefly bound to the
// same manager, and the entry stays until the last of them is removed.
// changed is true only when a location entry was deleted. Calling Remove
// again is a no-op.
func (g *Registry) Remove(connID string) (managerID string, changed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	managerID, ok := g.conns[connID]
	if !ok {
		return "", false
	}
	delete(g.conns, connID)

	if g.boundLocked(managerID) {
		return managerID, false
	}
	return managerID, g.dropLocked(managerID)
}

// ManagerFor returns the manager bound to connID, if any.
func (g *Registry) ManagerFor(connID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.conns[connID]
	return id, ok
}

func (g *Registry) SnapshotAll() []Report {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Report, 0, len(g.locations))
	for _, r := range g.locations {
		out = append(out, r)
	}
	sortReports(out)
	return out
}

// SnapshotForOwner returns the reports of managers indexed under ownerID.
// Managers without a location entry are skipped.
func (g *Registry) SnapshotForOwner(ownerID string) []Report {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := g.owners[ownerID]
	out := make([]Report, 0, len(set))
	for id := range set {
		if r, ok := g.locations[id]; ok {
			out = append(out, r)
		}
	}
	sortReports(out)
	return out
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.locations)
}

// ---- helpers (caller holds g.mu) ----

func (g *Registry) boundLocked(managerID string) bool {
	for _, id := range g.conns {
		if id == managerID {
			return true
		}
	}
	return false
}

func (g *Registry) dropLocked(managerID string) bool {
	r, ok := g.locations[managerID]
	if !ok {
		return false
	}
	delete(g.locations, managerID)
	g.unindexLocked(r.OwnerID, managerID)
	return true
}

func (g *Registry) unindexLocked(ownerID, managerID string) {
	set, ok := g.owners[ownerID]
	if !ok {
		return
	}
	delete(set, managerID)
	if len(set) == 0 {
		delete(g.owners, ownerID)
	}
}

func sortReports(rs []Report) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ManagerID < rs[j].ManagerID })
}
