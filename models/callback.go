package models

// JobEvent is the claim set of a completion callback sent to the controlling platform
type JobEvent struct {
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp,omitempty"`

	SiteKey string    `json:"site_key"`
	JobID   string    `json:"job_id"`
	ItemID  string    `json:"item_id"`
	Status  JobStatus `json:"status"`
	Path    string    `json:"path,omitempty"`
	Error   string    `json:"error,omitempty"`
}
