package locator

import (
	"encoding/json"
	"strings"
	"time"

	"sitecrew-backend/internal/presence"
)

// イベント名（既存のモバイル/ダッシュボードと互換）
const (
	EventManagerLocation        = "managerLocation"        // client -> server
	EventManagerLocationUpdate  = "managerLocationUpdate"  // server -> all
	EventConnectedManagers      = "connectedManagers"      // server -> all
	EventGetMyManagersLocations = "getMyManagersLocations" // client -> server
	EventMyManagersLocations    = "myManagersLocations"    // server -> requester
)

// Envelope is one websocket frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// LocationMessage is the managerLocation payload as sent by devices.
// Timestamp stays a string so a malformed frame can still be echoed as-is.
type LocationMessage struct {
	ManagerID string  `json:"managerId"`
	OwnerID   string  `json:"ownerId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
	SiteID    string  `json:"siteId,omitempty"`
}

// LocationUpdate is the managerLocationUpdate payload.
type LocationUpdate struct {
	ManagerID string  `json:"managerId"`
	OwnerID   string  `json:"ownerId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
	SiteID    string  `json:"siteId,omitempty"`
}

type ownerQuery struct {
	OwnerID string `json:"ownerId"`
}

// toReport converts the wire payload. An empty timestamp is stamped with now.
func (m LocationMessage) toReport(now time.Time) (presence.Report, error) {
	ts := now.UTC()
	if s := strings.TrimSpace(m.Timestamp); s != "" {
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return presence.Report{}, err
		}
		ts = parsed.UTC()
	}
	return presence.Report{
		ManagerID: strings.TrimSpace(m.ManagerID),
		OwnerID:   strings.TrimSpace(m.OwnerID),
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Timestamp: ts,
		SiteID:    strings.TrimSpace(m.SiteID),
	}, nil
}

func (m LocationMessage) rawUpdate() LocationUpdate {
	return LocationUpdate(m)
}

func updateFromReport(r presence.Report) LocationUpdate {
	return LocationUpdate{
		ManagerID: r.ManagerID,
		OwnerID:   r.OwnerID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Timestamp: r.Timestamp.Format(time.RFC3339Nano),
		SiteID:    r.SiteID,
	}
}

// decodeOwnerID accepts either a bare JSON string or {"ownerId": "..."}.
func decodeOwnerID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var q ownerQuery
	if err := json.Unmarshal(raw, &q); err == nil {
		return strings.TrimSpace(q.OwnerID)
	}
	return ""
}
