package bpmn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bpmnworks/engine/pkg/bpmn/handler"
	"github.com/bpmnworks/engine/pkg/storage/inmemory"
)

const timerCatchXML = `<?xml version="1.0"?>
<definitions id="defs" name="reminder" xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="reminder" isExecutable="true">
    <startEvent id="s1" name="begin"><outgoing>f1</outgoing></startEvent>
    <intermediateCatchEvent id="w1" name="waitABit"><incoming>f1</incoming><outgoing>f2</outgoing><timerEventDefinition/></intermediateCatchEvent>
    <endEvent id="e1" name="finish"><incoming>f2</incoming></endEvent>
    <sequenceFlow id="f1" sourceRef="s1" targetRef="w1"/>
    <sequenceFlow id="f2" sourceRef="w1" targetRef="e1"/>
  </process>
</definitions>`

func TestIntermediateTimerEventFires(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("reminder", "reminder.bpmn", []byte(timerCatchXML)))

	h := handler.NewModule()
	h.RegisterTimeout("waitABit", func() (float64, error) { return 30, nil })
	m.RegisterHandlers("reminder", h)

	pi, err := m.CreateProcess("reminder")
	require.NoError(t, err)
	require.NoError(t, pi.TriggerEvent("begin", nil))

	eventually(t, 2*time.Second, func() bool { return pi.Views().EndEvent != nil })
	require.Equal(t, "finish", pi.Views().EndEvent.Name)
	require.Empty(t, pi.State().Tokens)
}

const timerDurationXML = `<?xml version="1.0"?>
<definitions id="defs" name="reminder2" xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="reminder2" isExecutable="true">
    <startEvent id="s1" name="begin"><outgoing>f1</outgoing></startEvent>
    <intermediateCatchEvent id="w1" name="waitABit"><incoming>f1</incoming><outgoing>f2</outgoing><timerEventDefinition><timeDuration>PT0S</timeDuration></timerEventDefinition></intermediateCatchEvent>
    <endEvent id="e1" name="finish"><incoming>f2</incoming></endEvent>
    <sequenceFlow id="f1" sourceRef="s1" targetRef="w1"/>
    <sequenceFlow id="f2" sourceRef="w1" targetRef="e1"/>
  </process>
</definitions>`

// With no registered getTimeout handler the element's own ISO8601
// timeDuration decides the delay.
func TestTimerFallsBackToTimeDuration(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("reminder2", "reminder2.bpmn", []byte(timerDurationXML)))

	pi, err := m.CreateProcess("reminder2")
	require.NoError(t, err)
	require.NoError(t, pi.TriggerEvent("begin", nil))

	eventually(t, 2*time.Second, func() bool { return pi.Views().EndEvent != nil })
}

// A pending timer survives a restart: the due time is persisted, the delay
// is recomputed on load, and the restored instance fires on its own.
func TestTimerRearmsAfterRehydration(t *testing.T) {
	store := inmemory.New()
	h := handler.NewModule()
	h.RegisterTimeout("waitABit", func() (float64, error) { return 150, nil })

	m1 := NewProcessManager(WithStore(store))
	require.NoError(t, m1.AddBpmnXML("reminder", "reminder.bpmn", []byte(timerCatchXML)))
	m1.RegisterHandlers("reminder", h)

	pi, err := m1.CreateProcessWithId("r-1", "reminder")
	require.NoError(t, err)
	require.NoError(t, pi.TriggerEvent("begin", nil))
	eventually(t, time.Second, func() bool { return pi.State().CountAt("waitABit") > 0 })
	m1.Close(nil)

	m2 := NewProcessManager(WithStore(store))
	t.Cleanup(func() { m2.Close(nil) })
	m2.RegisterHandlers("reminder", h)
	require.NoError(t, m2.AddBpmnXML("reminder", "reminder.bpmn", []byte(timerCatchXML)))

	var restored *ProcessInstance
	eventually(t, time.Second, func() bool {
		r, ok := m2.GetInstance("r-1")
		restored = r
		return ok
	})
	eventually(t, 2*time.Second, func() bool { return restored.Views().EndEvent != nil })
	require.Equal(t, "finish", restored.Views().EndEvent.Name)
}

func TestBadTimeoutIsFatalToTheToken(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("reminder", "reminder.bpmn", []byte(timerCatchXML)))
	// No getTimeout handler and no timeDuration on the element: BadTimeout.
	pi, err := m.CreateProcess("reminder")
	require.NoError(t, err)
	require.NoError(t, pi.TriggerEvent("begin", nil))

	// The token reaches the timer event but never advances past it.
	eventually(t, time.Second, func() bool { return pi.State().CountAt("waitABit") > 0 })
	time.Sleep(50 * time.Millisecond)
	require.Nil(t, pi.Views().EndEvent)
}
