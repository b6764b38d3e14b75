package bpmn

import (
	"fmt"
	"strings"
	"time"

	"github.com/senseyeio/duration"

	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
)

// timerDuration resolves the firing delay for a timer-bearing flow object:
// a registered N$getTimeout handler wins, falling back to the
// element's own ISO8601 timeDuration attribute.
func (pi *ProcessInstance) timerDuration(name string, def *bpmn20.TTimerEventDefinition) (time.Duration, error) {
	if fn, ok := pi.handlers.Timeout(name); ok {
		ms, err := fn()
		if err != nil {
			return 0, newRuntimeError(BadTimeout, name, err.Error())
		}
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	if def == nil || strings.TrimSpace(def.TimeDuration) == "" {
		return 0, newRuntimeError(BadTimeout, name, "no getTimeout handler and no timeDuration attribute")
	}
	d, err := duration.ParseISO8601(def.TimeDuration)
	if err != nil {
		return 0, newRuntimeError(BadTimeout, name, fmt.Sprintf("invalid timeDuration %q: %s", def.TimeDuration, err))
	}
	now := time.Now()
	return d.Shift(now).Sub(now), nil
}

// scheduleTimer handles a timer intermediate catch event: the token already placed by putTokenAt stays in place while a
// callback is scheduled to deliver INTERMEDIATE_CATCH once the duration
// elapses; the instance persists so a restart can recompute the remaining
// delay from the stored due time.
func (pi *ProcessInstance) scheduleTimer(ice bpmn20.TIntermediateCatchEvent, data interface{}) {
	dur, err := pi.timerDuration(ice.GetName(), ice.TimerEventDefinition)
	if err != nil {
		pi.raiseDefaultError(err)
		return
	}
	at := time.Now().Add(dur)
	pi.timers.Set(ice.GetName(), at, dur)
	pi.armTimer(ice.GetName(), dur, data)
	pi.persist()
}

// armTimer schedules the live AfterFunc callback; it is split out of
// scheduleTimer so restore() can re-arm a timer from its persisted due time
// without re-deriving the duration.
func (pi *ProcessInstance) armTimer(name string, delay time.Duration, data interface{}) {
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		pi.queue.enqueue(internalEvent{kind: eventIntermediateCatch, name: name, data: data})
	})
	pi.timers.SetScheduled(name, func() { timer.Stop() })
}

// registerBoundaryTimers arms every timer boundary event attached to fo the
// moment its token arrives: a
// cancel-activity boundary races the attached activity's own completion,
// whichever TOKEN_ARRIVED/ACTIVITY_END reaches emitTokens first clears the
// other's token.
func (pi *ProcessInstance) registerBoundaryTimers(fo bpmn20.FlowNode) {
	for _, be := range pi.definition.Definitions.BoundaryEventsFor(fo.GetId()) {
		if !be.IsTimerEvent() {
			continue
		}
		dur, err := pi.timerDuration(be.GetName(), be.TimerEventDefinition)
		if err != nil {
			pi.raiseDefaultError(err)
			continue
		}
		at := time.Now().Add(dur)
		pi.timers.Set(be.GetName(), at, dur)
		name := be.GetName()
		pi.armBoundaryTimer(name, dur)
	}
}

func (pi *ProcessInstance) armBoundaryTimer(name string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		pi.queue.enqueue(internalEvent{kind: eventBoundaryCatch, name: name, data: nil})
	})
	pi.timers.SetScheduled(name, func() { timer.Stop() })
}

// clearBoundaryTimers cancels the timers of every boundary event attached
// to fo; a consumed activity token implicitly cancels the timers racing it.
func (pi *ProcessInstance) clearBoundaryTimers(fo bpmn20.FlowNode) {
	for _, be := range pi.definition.Definitions.BoundaryEventsFor(fo.GetId()) {
		pi.timers.Clear(be.GetName())
	}
}

// rearmPendingTimers re-derives each persisted timer's remaining delay from
// its stored due time and re-arms the live callback; used by restore() after
// a process document is loaded from the store.
func (pi *ProcessInstance) rearmPendingTimers() {
	for name, pending := range pi.timers.Timeouts {
		remaining := time.Until(pending.At)
		fo, ok := pi.elementByName(name)
		if !ok {
			continue
		}
		if _, isBoundary := fo.(bpmn20.TBoundaryEvent); isBoundary {
			pi.armBoundaryTimer(name, remaining)
			continue
		}
		pi.armTimer(name, remaining, nil)
	}
}
