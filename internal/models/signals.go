package models

// Signal topics fired by the store after every write. Observers in the
// same runtime connect through sig.Default(); observers in a separate
// runtime fall back to polling.
const (
	SigEmergencyTriggered = "emergency:triggered"
	SigEmergencyResolved  = "emergency:resolved"
	SigLocationAppended   = "location:appended"
	SigUserUpdated        = "user:updated"
)
