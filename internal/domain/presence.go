package domain

import "time"

// PresenceRecord is the online state of one user. Version increases on every
// change and lets clients discard stale deltas.
type PresenceRecord struct {
	UserID   string    `json:"id"`
	Username string    `json:"username,omitempty"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
	Version  uint64    `json:"version"`
}

// OfflineRecord is the default returned for users nobody has reported on:
// offline with an unknown (zero) last-seen time.
func OfflineRecord(userID string) PresenceRecord {
	return PresenceRecord{UserID: userID}
}

// PresenceDelta carries only the records that changed.
type PresenceDelta struct {
	Version uint64           `json:"version"`
	Changes []PresenceRecord `json:"changes"`
}

// PresenceSnapshot is an immutable point-in-time copy of every known record.
type PresenceSnapshot struct {
	Version uint64           `json:"version"`
	TakenAt time.Time        `json:"taken_at"`
	Records []PresenceRecord `json:"users"`
}

// Record returns the record for userID, if the snapshot contains it.
func (s PresenceSnapshot) Record(userID string) (PresenceRecord, bool) {
	for _, r := range s.Records {
		if r.UserID == userID {
			return r, true
		}
	}
	return PresenceRecord{}, false
}
