package dto

// ConnectionResponse represents a calendar connection
type ConnectionResponse struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	AccountEmail string  `json:"account_email"`
	TimeZone     string  `json:"time_zone"`
	IsActive     bool    `json:"is_active"`
	SyncState    string  `json:"sync_state"`
	LastSyncedAt *string `json:"last_synced_at,omitempty"`
	LastError    *string `json:"last_error,omitempty"`
	ConnectedAt  string  `json:"connected_at"`
}

// ConnectionListResponse represents list of connections
type ConnectionListResponse struct {
	Connections []ConnectionResponse `json:"connections"`
}

// ConnectionStateResponse is the synchronous state query exposed to the
// UI collaborator.
type ConnectionStateResponse struct {
	ConnectionID string  `json:"connection_id"`
	SyncState    string  `json:"sync_state"`
	IsActive     bool    `json:"is_active"`
	LastSyncedAt *string `json:"last_synced_at,omitempty"`
	LastError    *string `json:"last_error,omitempty"`
}
