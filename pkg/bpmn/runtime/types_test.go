package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessStateIsAMultiset(t *testing.T) {
	var s ProcessState
	s.Tokens = append(s.Tokens,
		Token{Position: "join", OwningProcessId: "p1"},
		Token{Position: "join", OwningProcessId: "p1"},
		Token{Position: "other", OwningProcessId: "p1"},
	)
	require.Equal(t, 2, s.CountAt("join"))

	removed, ok := s.RemoveFirstAt("join")
	require.True(t, ok)
	require.Equal(t, "join", removed.Position)
	require.Equal(t, 1, s.CountAt("join"))

	all := s.RemoveAllAt("join")
	require.Len(t, all, 1)
	require.Equal(t, 0, s.CountAt("join"))
	require.Equal(t, 1, s.CountAt("other"))

	_, ok = s.RemoveFirstAt("join")
	require.False(t, ok)
}

func TestHistoryEndClosesMostRecentOpenEntry(t *testing.T) {
	var h ProcessHistory
	t0 := time.Now()
	h.Begin("task", HistoryEntryFlowObject, t0)
	h.Begin("task", HistoryEntryFlowObject, t0.Add(time.Millisecond))

	h.End("task", t0.Add(2*time.Millisecond))
	require.Nil(t, h.Entries[0].End)
	require.NotNil(t, h.Entries[1].End)

	h.End("task", t0.Add(3*time.Millisecond))
	require.NotNil(t, h.Entries[0].End)

	// A further End on a fully closed name is a no-op.
	h.End("task", t0.Add(4*time.Millisecond))
}

func TestAttachSubhistory(t *testing.T) {
	var h ProcessHistory
	h.Begin("CA", HistoryEntryCallActivity, time.Now())
	sub := &ProcessHistory{}
	sub.Begin("childStart", HistoryEntryFlowObject, time.Now())
	h.AttachSubhistory("CA", sub)
	require.Same(t, sub, h.Entries[0].Subhistory)
}

func TestTimerClearIsIdempotent(t *testing.T) {
	p := NewPendingTimerEvents()
	cancelled := 0
	p.Set("deadline", time.Now().Add(time.Minute), time.Minute)
	p.SetScheduled("deadline", func() { cancelled++ })

	p.Clear("deadline")
	require.Equal(t, 1, cancelled)
	require.NotContains(t, p.Timeouts, "deadline")

	p.Clear("deadline")
	require.Equal(t, 1, cancelled)
}
