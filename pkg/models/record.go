package models

import "time"

// OrphanRecord is the persisted marker written at acquisition time, one per
// outstanding resource. It is how the sweeper finds resources whose owning
// process died before tearing them down.
type OrphanRecord struct {
	ID        string         `json:"id"`
	Handle    ResourceHandle `json:"handle"`
	OwnerPID  int32          `json:"owner_pid"`
	OwnerHost string         `json:"owner_host,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Age returns how long ago the record was created
func (r *OrphanRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Stale reports whether the record is older than the staleness threshold
func (r *OrphanRecord) Stale(now time.Time, threshold time.Duration) bool {
	return r.Age(now) > threshold
}
