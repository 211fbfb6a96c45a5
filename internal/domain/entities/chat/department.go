package chat

import "time"

// Department groups agents. Rooms reference departments by id; membership of
// agents is managed outside the coordinator.
type Department struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
