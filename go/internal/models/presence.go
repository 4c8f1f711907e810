package models

// PresenceRecord is one ephemeral "online" entry per connected privileged
// session. Its lifetime is bounded by the session's live connection: the store
// removes it automatically when the connection drops without an explicit
// deregister.
type PresenceRecord struct {
	Timestamp int64  `json:"timestamp"`
	IsAdmin   bool   `json:"isAdmin"`
	Nickname  string `json:"nickname"`
}
