package jobs

import (
	"fmt"
	"strings"
)

const TypeSendNotification Type = "notify.send"

type NotificationKind string

const (
	NotifyTransferRequest      NotificationKind = "transfer_request"
	NotifyAgentInvitation      NotificationKind = "agent_invitation"
	NotifyDepartmentInvitation NotificationKind = "department_invitation"
	NotifyRoomEnded            NotificationKind = "room_ended"
)

type SendNotification struct {
	TenantID string           `json:"tenantId"`
	Kind     NotificationKind `json:"kind"`
	RoomID   string           `json:"roomId,omitempty"`
	To       string           `json:"to"`
	Subject  string           `json:"subject"`
	Text     string           `json:"text"`
}

func (SendNotification) JobType() Type { return TypeSendNotification }
func (SendNotification) Queue() string { return QueueNotifications }
func (j SendNotification) Validate() error {
	if j.TenantID == "" {
		return fmt.Errorf("notification: %w", errMissingID)
	}
	if !strings.Contains(j.To, "@") {
		return fmt.Errorf("notification: invalid recipient %q", j.To)
	}
	if j.Subject == "" {
		return fmt.Errorf("notification: missing subject")
	}
	return nil
}
