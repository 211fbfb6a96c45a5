package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRecentBufferKeepsWarningsOnly(t *testing.T) {
	buf := NewRecentBuffer(2)
	logger := zerolog.New(buf).With().Str("channel", "room").Logger()

	logger.Info().Msg("ignored")
	logger.Warn().Str("roomId", "r1").Msg("first")
	logger.Error().Msg("second")
	logger.Error().Msg("third")

	entries := buf.Entries("")
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Message)
	require.Equal(t, "third", entries[1].Message)
	require.Equal(t, "room", entries[1].Channel)
}

func TestRecentBufferFiltersByChannel(t *testing.T) {
	buf := NewRecentBuffer(10)
	room := zerolog.New(buf).With().Str("channel", "room").Logger()
	cache := zerolog.New(buf).With().Str("channel", "cache").Logger()

	room.Warn().Msg("room warning")
	cache.Warn().Msg("cache warning")

	entries := buf.Entries("cache")
	require.Len(t, entries, 1)
	require.Equal(t, "cache warning", entries[0].Message)
	require.Len(t, buf.Entries("all"), 2)
}

func TestChanneledLoggerLevels(t *testing.T) {
	cfg := DefaultLoggerConfig()
	cfg.OutputToConsole = false
	cfg.ChannelLevels[ChannelCache] = zerolog.DebugLevel

	cl, err := NewChanneledLogger(cfg)
	require.NoError(t, err)
	defer cl.Close()

	levels := cl.GetChannelLevels()
	require.Equal(t, "debug", levels["cache"])
	require.Equal(t, "info", levels["room"])

	require.NoError(t, cl.SetChannelLevel(ChannelRoom, zerolog.WarnLevel))
	require.Equal(t, "warn", cl.GetChannelLevels()["room"])
	require.Error(t, cl.SetChannelLevel(Channel("nope"), zerolog.WarnLevel))

	cl.Room().Warn().Msg("kept")
	require.Len(t, cl.Recent().Entries("room"), 1)
}
