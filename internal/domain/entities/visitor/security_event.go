package visitor

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type SecurityEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	TenantID  string    `json:"tenantId"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Detail    string    `json:"detail,omitempty"`
	IPHash    string    `json:"ipHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
