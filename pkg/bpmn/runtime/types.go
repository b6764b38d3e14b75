package runtime

import "time"

// Token is the unit of execution. Substate/CalledProcessId are
// only populated on call-activity tokens.
type Token struct {
	Position        string        `json:"position"`
	OwningProcessId string        `json:"owningProcessId"`
	Substate        *ProcessState `json:"substate,omitempty"`
	CalledProcessId string        `json:"calledProcessId,omitempty"`
}

// ProcessState deliberately does not enforce set semantics on
// (position, owningProcessId): a parallel-gateway position may hold one
// token per arrival so far.
type ProcessState struct {
	Tokens []Token `json:"tokens"`
}

func (s ProcessState) CountAt(position string) int {
	n := 0
	for _, t := range s.Tokens {
		if t.Position == position {
			n++
		}
	}
	return n
}

// RemoveFirstAt removes the first token found at position, reporting
// whether one was removed.
func (s *ProcessState) RemoveFirstAt(position string) (Token, bool) {
	for i, t := range s.Tokens {
		if t.Position == position {
			s.Tokens = append(s.Tokens[:i], s.Tokens[i+1:]...)
			return t, true
		}
	}
	return Token{}, false
}

func (s *ProcessState) RemoveAllAt(position string) []Token {
	var removed []Token
	var kept []Token
	for _, t := range s.Tokens {
		if t.Position == position {
			removed = append(removed, t)
		} else {
			kept = append(kept, t)
		}
	}
	s.Tokens = kept
	return removed
}

type HistoryEntryType string

const (
	HistoryEntryFlowObject   HistoryEntryType = "FLOW_OBJECT"
	HistoryEntryCallActivity HistoryEntryType = "CALL_ACTIVITY"
)

// HistoryEntry is append-only except for the End field, which is set once
// the flow object completes.
type HistoryEntry struct {
	Name       string           `json:"name"`
	Type       HistoryEntryType `json:"type"`
	Begin      time.Time        `json:"begin"`
	End        *time.Time       `json:"end,omitempty"`
	Subhistory *ProcessHistory  `json:"subhistory,omitempty"`
}

type ProcessHistory struct {
	Entries    []HistoryEntry `json:"entries"`
	CreatedAt  time.Time      `json:"createdAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

func (h *ProcessHistory) Begin(name string, entryType HistoryEntryType, now time.Time) *HistoryEntry {
	h.Entries = append(h.Entries, HistoryEntry{Name: name, Type: entryType, Begin: now})
	return &h.Entries[len(h.Entries)-1]
}

// End closes the most recently opened still-open entry matching name.
func (h *ProcessHistory) End(name string, now time.Time) {
	for i := len(h.Entries) - 1; i >= 0; i-- {
		if h.Entries[i].Name == name && h.Entries[i].End == nil {
			t := now
			h.Entries[i].End = &t
			return
		}
	}
}

// AttachSubhistory records a called process's history on the most recently
// opened still-open entry matching name.
func (h *ProcessHistory) AttachSubhistory(name string, sub *ProcessHistory) {
	for i := len(h.Entries) - 1; i >= 0; i-- {
		if h.Entries[i].Name == name && h.Entries[i].End == nil {
			h.Entries[i].Subhistory = sub
			return
		}
	}
}

// PendingTimeout is the persisted shape of one scheduled timer.
type PendingTimeout struct {
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// PendingTimerEvents tracks scheduled timers for one instance. scheduled
// carries the live cancel func (never persisted) so a restore can tell
// which timers still need a goroutine spun up.
type PendingTimerEvents struct {
	Timeouts  map[string]PendingTimeout `json:"timeouts"`
	scheduled map[string]func()
}

func NewPendingTimerEvents() *PendingTimerEvents {
	return &PendingTimerEvents{Timeouts: map[string]PendingTimeout{}, scheduled: map[string]func(){}}
}

func (p *PendingTimerEvents) Set(name string, at time.Time, dur time.Duration) {
	if p.Timeouts == nil {
		p.Timeouts = map[string]PendingTimeout{}
	}
	p.Timeouts[name] = PendingTimeout{At: at, Duration: dur}
}

// Clear cancels any scheduled callback for name and removes its record; a
// clear on a name with nothing scheduled is a no-op.
func (p *PendingTimerEvents) Clear(name string) {
	if cancel, ok := p.scheduled[name]; ok && cancel != nil {
		cancel()
	}
	delete(p.scheduled, name)
	delete(p.Timeouts, name)
}

func (p *PendingTimerEvents) SetScheduled(name string, cancel func()) {
	if p.scheduled == nil {
		p.scheduled = map[string]func(){}
	}
	p.scheduled[name] = cancel
}

// Views is the derived read-model summary of an instance.
type Views struct {
	StartEvent         *ElementView  `json:"startEvent,omitempty"`
	EndEvent           *ElementView  `json:"endEvent,omitempty"`
	Duration           time.Duration `json:"duration,omitempty"`
	ActiveElementNames []string      `json:"activeElementNames,omitempty"`
}

type ElementView struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}
