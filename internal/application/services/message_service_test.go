package services_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
)

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	cases := []struct {
		name string
		in   services.SendMessageInput
	}{
		{"blank body", services.SendMessageInput{SenderKind: chat.SenderAgent, SenderID: "a1", Body: "   "}},
		{"too long", services.SendMessageInput{SenderKind: chat.SenderAgent, SenderID: "a1", Body: strings.Repeat("é", 5001)}},
		{"visitor internal note", services.SendMessageInput{SenderKind: chat.SenderVisitor, SenderID: room.VisitorID, Body: "psst", Internal: true}},
		{"agent not in room", services.SendMessageInput{SenderKind: chat.SenderAgent, SenderID: "a2", Body: "hi"}},
		{"unknown sender kind", services.SendMessageInput{SenderKind: "bot", SenderID: "x", Body: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			in.RoomID = room.ID
			_, err := h.messages.Send(h.ctx, in)
			require.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}

	_, err := h.messages.Send(h.ctx, services.SendMessageInput{RoomID: "nope", SenderKind: chat.SenderSystem, Body: "hi"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	m := h.say(room.ID, chat.SenderAgent, "a1", strings.Repeat("é", 5000))
	require.Len(t, []rune(m.Body), 5000)
	require.Len(t, h.queue.OfType(jobs.TypeMessageRecorded), 1)
}

func TestSystemMessageAndEndedRoom(t *testing.T) {
	h := newHarness(t)
	room := h.openRoom("").Room
	h.advance(time.Second)

	m := h.say(room.ID, chat.SenderSystem, "", "  An agent will be with you shortly.  ")
	require.Equal(t, "An agent will be with you shortly.", m.Body)

	got, err := h.rooms.GetRoom(h.ctx, room.ID)
	require.NoError(t, err)
	require.True(t, start.Add(time.Second).Equal(got.Room.LastActivityAt), got.Room.LastActivityAt)

	_, err = h.rooms.EndRoom(h.ctx, room.ID)
	require.NoError(t, err)
	_, err = h.messages.Send(h.ctx, services.SendMessageInput{RoomID: room.ID, SenderKind: chat.SenderSystem, Body: "late"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestListHidesInternalNotes(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")
	h.say(room.ID, chat.SenderVisitor, room.VisitorID, "hello")
	h.advance(time.Second)
	_, err := h.messages.Send(h.ctx, services.SendMessageInput{RoomID: room.ID, SenderKind: chat.SenderAgent, SenderID: "a1", Body: "vip", Internal: true})
	require.NoError(t, err)
	h.advance(time.Second)
	h.say(room.ID, chat.SenderAgent, "a1", "hi there")

	public, err := h.messages.List(h.ctx, room.ID, false)
	require.NoError(t, err)
	require.Len(t, public, 2)
	require.Equal(t, "hello", public[0].Body)
	require.Equal(t, "hi there", public[1].Body)

	all, err := h.messages.List(h.ctx, room.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[1].Internal)
}

// After every cache entry has expired the room is rebuilt from the durable
// store and transitions keep working against it.
func TestRoomSurvivesCacheExpiry(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")
	h.say(room.ID, chat.SenderVisitor, room.VisitorID, "hello")
	h.advance(time.Second)
	h.say(room.ID, chat.SenderAgent, "a1", "hi")
	_, err := h.messages.Send(h.ctx, services.SendMessageInput{RoomID: room.ID, SenderKind: chat.SenderAgent, SenderID: "a1", Body: "note", Internal: true})
	require.NoError(t, err)
	h.pump()

	h.advance(3 * time.Hour)

	view, err := h.rooms.GetRoom(h.ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, chat.StateSingleAgent, view.State)
	require.Len(t, view.Participants, 2)

	primary, ok, err := h.rooms.PrimaryAgent(h.ctx, room.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a1", primary)

	msgs, err := h.messages.List(h.ctx, room.ID, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	st := h.status("a1")
	require.Equal(t, 1, st.CurrentChats)
	require.Equal(t, chat.PresenceBusy, st.Status)

	_, err = h.rooms.LeaveAgent(h.ctx, room.ID, "a1")
	require.NoError(t, err)
	require.Equal(t, 0, h.status("a1").CurrentChats)
	h.pump()

	pid := agentPID(room.ID, "a1")
	_, err = h.durable.History.FindOpen(h.ctx, room.ID, pid)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	entries, err := h.durable.History.FindByRoom(h.ctx, room.ID)
	require.NoError(t, err)
	var left int
	for _, e := range entries {
		if e.ParticipantID == pid && e.Action == chat.ActionLeft {
			left++
		}
	}
	require.Equal(t, 1, left)

	durable, err := h.durable.AgentStatus.FindByID(h.ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 0, durable.CurrentChats)
	require.Equal(t, chat.PresenceOnline, durable.Status)
}
