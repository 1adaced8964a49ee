package domain

import "time"

// ChangeKind is the kind of row mutation carried by a ChangeEvent.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ChangeEvent announces that a bookmark owned by OwnerID was mutated.
// Consumers treat it as an invalidation signal and refetch; the payload
// is not trusted to describe the new state.
type ChangeEvent struct {
	Kind     ChangeKind `json:"type"`
	RecordID string     `json:"record_id"`
	OwnerID  string     `json:"owner_id"`
	At       time.Time  `json:"at"`
}
