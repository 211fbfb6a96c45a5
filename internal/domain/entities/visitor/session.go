// Package visitor defines the visitor-side entity families: sessions,
// attribution, security events and interactions.
package visitor

import "time"

type Session struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	Token      string     `json:"token"`
	VisitorID  string     `json:"visitorId"`
	UserAgent  string     `json:"userAgent,omitempty"`
	IPHash     string     `json:"ipHash,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type SessionPatch struct {
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	At         time.Time  `json:"at"`
}

func (p SessionPatch) Apply(s *Session) {
	if p.LastSeenAt != nil && p.LastSeenAt.After(s.LastSeenAt) {
		s.LastSeenAt = *p.LastSeenAt
	}
	if p.EndedAt != nil && s.EndedAt == nil {
		t := *p.EndedAt
		s.EndedAt = &t
	}
	if p.At.After(s.UpdatedAt) {
		s.UpdatedAt = p.At
	}
}

func (p SessionPatch) Stamp() time.Time { return p.At }

// Engagement is derived per session from its interactions.
type Engagement struct {
	SessionID       string    `json:"sessionId"`
	TenantID        string    `json:"tenantId"`
	PageViews       int       `json:"pageViews"`
	WidgetEvents    int       `json:"widgetEvents"`
	DistinctPages   int       `json:"distinctPages"`
	DurationSeconds int64     `json:"durationSeconds"`
	Score           float64   `json:"score"`
	ComputedAt      time.Time `json:"computedAt"`
}
