package dto

// AuthorizationResponse carries the provider authorization URL the UI
// collaborator presents to the user (popup or redirect).
type AuthorizationResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// CallbackResult is returned to the redirect target after the token
// exchange completes.
type CallbackResult struct {
	ConnectionID string `json:"connection_id"`
	AccountEmail string `json:"account_email"`
	Provider     string `json:"provider"`
}
