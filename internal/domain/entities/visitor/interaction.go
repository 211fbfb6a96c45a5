package visitor

import (
	"fmt"
	"time"
)

// InteractionKind discriminates the Interaction union.
type InteractionKind string

const (
	KindPageView    InteractionKind = "page_view"
	KindWidgetEvent InteractionKind = "widget_event"
)

type PageView struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type WidgetEvent struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

// Interaction is one logical entity; exactly the payload matching Kind is set.
type Interaction struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	TenantID    string          `json:"tenantId"`
	Kind        InteractionKind `json:"kind"`
	PageView    *PageView       `json:"pageView,omitempty"`
	WidgetEvent *WidgetEvent    `json:"widgetEvent,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func NewPageView(id, tenantID, sessionID string, pv PageView, at time.Time) *Interaction {
	return &Interaction{ID: id, TenantID: tenantID, SessionID: sessionID, Kind: KindPageView, PageView: &pv, OccurredAt: at, UpdatedAt: at}
}

func NewWidgetEvent(id, tenantID, sessionID string, we WidgetEvent, at time.Time) *Interaction {
	return &Interaction{ID: id, TenantID: tenantID, SessionID: sessionID, Kind: KindWidgetEvent, WidgetEvent: &we, OccurredAt: at, UpdatedAt: at}
}

func (i *Interaction) Validate() error {
	switch i.Kind {
	case KindPageView:
		if i.PageView == nil || i.WidgetEvent != nil {
			return fmt.Errorf("page_view interaction %s must carry only a page view", i.ID)
		}
		if i.PageView.URL == "" {
			return fmt.Errorf("page_view interaction %s has no url", i.ID)
		}
	case KindWidgetEvent:
		if i.WidgetEvent == nil || i.PageView != nil {
			return fmt.Errorf("widget_event interaction %s must carry only a widget event", i.ID)
		}
		if i.WidgetEvent.Action == "" {
			return fmt.Errorf("widget_event interaction %s has no action", i.ID)
		}
	default:
		return fmt.Errorf("unknown interaction kind %q", i.Kind)
	}
	return nil
}
