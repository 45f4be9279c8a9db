package locator

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"sitecrew-backend/internal/presence"
)

// Publisher delivers events to subscribers. The websocket Hub is the
// production implementation.
type Publisher interface {
	Broadcast(event string, payload any)
	SendTo(connID string, event string, payload any)
}

type ConnState int

const (
	StateConnected ConnState = iota + 1
	StateIdentified
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Options struct {
	// EchoInvalidReports rebroadcasts reports that lack managerId/ownerId
	// as managerLocationUpdate without touching the registry.
	EchoInvalidReports bool
	Now                func() time.Time
}

// Relay drives the per-connection state machine around the registry.
type Relay struct {
	registry *presence.Registry
	pub      Publisher
	opts     Options

	mu     sync.Mutex
	states map[string]ConnState

	// pubMu orders registry mutations with their broadcasts, so subscribers
	// never end on a stale connectedManagers snapshot.
	pubMu sync.Mutex
}

func NewRelay(registry *presence.Registry, pub Publisher, opts Options) *Relay {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Relay{
		registry: registry,
		pub:      pub,
		opts:     opts,
		states:   make(map[string]ConnState),
	}
}

func (r *Relay) Connect(connID string) {
	r.setState(connID, StateConnected)
	log.Printf("[LOCATOR] client connected: %s", connID)
}

// Dispatch routes one inbound frame.
func (r *Relay) Dispatch(connID string, env Envelope) {
	switch env.Event {
	case EventManagerLocation:
		var msg LocationMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Printf("[LOCATOR] bad location payload from %s: %v", connID, err)
			return
		}
		r.HandleReport(connID, msg)
	case EventGetMyManagersLocations:
		r.HandleOwnerQuery(connID, decodeOwnerID(env.Data))
	default:
		log.Printf("[LOCATOR] unknown event %q from %s", env.Event, connID)
	}
}

// HandleReport upserts a valid report and broadcasts both the single
// update and a full snapshot. Invalid reports are logged and dropped.
func (r *Relay) HandleReport(connID string, msg LocationMessage) {
	rep, err := msg.toReport(r.opts.Now())

	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if err == nil {
		err = r.registry.Upsert(connID, rep)
	}
	if err != nil {
		log.Printf("[LOCATOR] bad location from %s: %v", connID, err)
		if r.opts.EchoInvalidReports {
			r.pub.Broadcast(EventManagerLocationUpdate, msg.rawUpdate())
		}
		return
	}

	r.setState(connID, StateIdentified)
	r.pub.Broadcast(EventManagerLocationUpdate, updateFromReport(rep))
	r.broadcastSnapshot()
}

// HandleOwnerQuery answers the requesting connection only.
func (r *Relay) HandleOwnerQuery(connID, ownerID string) {
	r.pub.SendTo(connID, EventMyManagersLocations, r.registry.SnapshotForOwner(ownerID))
}

// OwnerLocations serves the same scoped view to HTTP callers.
func (r *Relay) OwnerLocations(ownerID string) []presence.Report {
	return r.registry.SnapshotForOwner(ownerID)
}

func (r *Relay) Disconnect(connID string) {
	prev := r.State(connID)
	r.mu.Lock()
	delete(r.states, connID)
	r.mu.Unlock()

	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	managerID, changed := r.registry.Remove(connID)
	if changed {
		log.Printf("[LOCATOR] manager %s went offline (%s)", managerID, connID)
		r.broadcastSnapshot()
		return
	}
	if prev != StateIdentified {
		log.Printf("[LOCATOR] client disconnected: %s (no managerId tracked)", connID)
	}
}

func (r *Relay) State(connID string) ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[connID]
	if !ok {
		return StateDisconnected
	}
	return s
}

func (r *Relay) setState(connID string, s ConnState) {
	r.mu.Lock()
	r.states[connID] = s
	r.mu.Unlock()
}

// broadcastSnapshot: caller holds r.pubMu
func (r *Relay) broadcastSnapshot() {
	managers := r.registry.SnapshotAll()
	log.Printf("[LOCATOR] broadcasting managers: count=%d", len(managers))
	r.pub.Broadcast(EventConnectedManagers, managers)
}
