package models

import "time"

// SetClock replaces the time source used for cache expiry.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}
