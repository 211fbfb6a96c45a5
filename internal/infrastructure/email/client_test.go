package email

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

func TestRenderEscapesText(t *testing.T) {
	body, err := Render(Message{Subject: "Transfer", Text: "Agent <b>Ana</b> wants to hand over.\n\nRoom r1"})
	require.NoError(t, err)
	require.Contains(t, body, "&lt;b&gt;Ana&lt;/b&gt;")
	require.Contains(t, body, "<p style=\"margin: 0 0 16px;\">Room r1</p>")
	require.Contains(t, body, "<title>Transfer</title>")
}

func TestNewResendClientRequiresKey(t *testing.T) {
	_, err := NewResendClient(config.NotifyConfig{})
	require.Error(t, err)

	c, err := NewResendClient(config.NotifyConfig{ResendAPIKey: "re_test"})
	require.NoError(t, err)
	require.Contains(t, c.from, "noreply@")
}
