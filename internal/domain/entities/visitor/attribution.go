package visitor

import "time"

type Attribution struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	TenantID   string    `json:"tenantId"`
	Source     string    `json:"source,omitempty"`
	Medium     string    `json:"medium,omitempty"`
	Campaign   string    `json:"campaign,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	LandingURL string    `json:"landingUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
