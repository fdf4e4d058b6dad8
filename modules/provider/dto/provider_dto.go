package dto

import "time"

// ExternalEvent is an event fetched from the provider, normalized to
// absolute instants. Only busy events reach the sync engine.
type ExternalEvent struct {
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      time.Time  `json:"ends_at"`
	// Updated is the provider-supplied last-modified instant. Absent
	// means the edit cannot be dated and the remote copy is treated as
	// infinitely new.
	Updated *time.Time `json:"updated,omitempty"`
	AllDay  bool       `json:"all_day"`
}

// Wire shapes exchanged with the provider REST API.

// EventTime carries either a dateTime (timed event) or a date (all-day
// event), with an optional zone hint.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type WireEvent struct {
	ID           string    `json:"id,omitempty"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description,omitempty"`
	Start        EventTime `json:"start"`
	End          EventTime `json:"end"`
	Updated      string    `json:"updated,omitempty"`
	Transparency string    `json:"transparency,omitempty"`
	Status       string    `json:"status,omitempty"`
}

type EventListResponse struct {
	Items         []WireEvent `json:"items"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}
