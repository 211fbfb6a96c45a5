package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	short := c.After(time.Second)
	long := c.After(time.Minute)
	require.Equal(t, 2, c.Pending())

	c.Advance(2 * time.Second)
	select {
	case got := <-short:
		require.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("short waiter did not fire")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}
	require.Equal(t, 1, c.Pending())

	c.Set(start.Add(time.Hour))
	<-long
	require.Equal(t, 0, c.Pending())
}

func TestFakeClockZeroDelay(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero delay should fire immediately")
	}
}
