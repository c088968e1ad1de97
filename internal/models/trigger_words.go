package models

import "time"

// TriggerWordEntry is one cached trigger-word lookup, keyed by adapter
// filename. Empty Words is a definitive "none" result; transient lookup
// failures are never written here.
type TriggerWordEntry struct {
	Filename string    `badgerhold:"key" json:"filename"`
	Words    []string  `json:"words"`
	CachedAt time.Time `json:"cached_at"`
}

// Fresh reports whether the entry is still within ttl
func (e *TriggerWordEntry) Fresh(ttl time.Duration) bool {
	return time.Since(e.CachedAt) < ttl
}
