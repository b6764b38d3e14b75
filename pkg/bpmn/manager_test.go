package bpmn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bpmnworks/engine/pkg/bpmn/handler"
	"github.com/bpmnworks/engine/pkg/storage/inmemory"
)

const waitTaskXML = `<?xml version="1.0"?>
<definitions id="defs" name="orders" xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="orders" isExecutable="true">
    <startEvent id="s1" name="orderReceived"><outgoing>f1</outgoing></startEvent>
    <userTask id="t1" name="approveOrder"><incoming>f1</incoming><outgoing>f2</outgoing></userTask>
    <endEvent id="e1" name="orderDone"><incoming>f2</incoming></endEvent>
    <sequenceFlow id="f1" sourceRef="s1" targetRef="t1"/>
    <sequenceFlow id="f2" sourceRef="t1" targetRef="e1"/>
  </process>
</definitions>`

func TestCreateProcessWithIdCollision(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))

	_, err := m.CreateProcessWithId("order-1", "orders")
	require.NoError(t, err)

	_, err = m.CreateProcessWithId("order-1", "orders")
	require.Error(t, err)
	require.IsType(t, &ConfigError{}, err)
}

func TestCreateProcessUnknownDefinition(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateProcess("nope")
	require.Error(t, err)
	require.IsType(t, &ConfigError{}, err)
}

func TestTriggerUnknownEvent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))
	pi, err := m.CreateProcess("orders")
	require.NoError(t, err)

	err = pi.TriggerEvent("doesNotExist", nil)
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	require.Equal(t, UnknownEvent, rerr.Kind)
}

func TestStartEventFiresOnlyOnce(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))
	pi, err := m.CreateProcess("orders")
	require.NoError(t, err)

	require.NoError(t, pi.TriggerEvent("orderReceived", nil))
	err = pi.TriggerEvent("orderReceived", nil)
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	require.Equal(t, AlreadyStarted, rerr.Kind)
}

// A second taskDone for an already-completed task routes NotExecuting
// through defaultEventHandler and leaves state untouched.
func TestDuplicateTaskDoneIsRejectedNonFatally(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))

	var mu sync.Mutex
	var routed []error
	h := handler.NewModule()
	h.RegisterToken(handler.HookDefaultEventHandler, func(data interface{}, done handler.DoneFunc) {
		mu.Lock()
		if err, ok := data.(error); ok {
			routed = append(routed, err)
		}
		mu.Unlock()
		done(nil, nil)
	})
	m.RegisterHandlers("orders", h)

	pi, err := m.CreateProcess("orders")
	require.NoError(t, err)
	require.NoError(t, pi.TriggerEvent("orderReceived", nil))

	eventually(t, time.Second, func() bool { return pi.State().CountAt("approveOrder") > 0 })
	require.NoError(t, pi.TaskDone("approveOrder", nil))
	eventually(t, time.Second, func() bool { return pi.Views().EndEvent != nil })

	require.NoError(t, pi.TaskDone("approveOrder", nil))
	eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(routed) == 1
	})
	mu.Lock()
	rerr, ok := routed[0].(*RuntimeError)
	mu.Unlock()
	require.True(t, ok)
	require.Equal(t, NotExecuting, rerr.Kind)
	require.Empty(t, pi.State().Tokens)
}

func TestTriggerEventDoneSuffixCompletesWaitTask(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))
	pi, err := m.CreateProcess("orders")
	require.NoError(t, err)
	require.NoError(t, pi.TriggerEvent("orderReceived", nil))

	eventually(t, time.Second, func() bool { return pi.State().CountAt("approveOrder") > 0 })
	require.NoError(t, pi.TriggerEvent("approveOrderDone", nil))
	eventually(t, time.Second, func() bool { return pi.Views().EndEvent != nil })
}

func TestFindByStateNameAndProperty(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))

	a, err := m.CreateProcessWithId("a", "orders")
	require.NoError(t, err)
	b, err := m.CreateProcessWithId("b", "orders")
	require.NoError(t, err)

	require.NoError(t, a.TriggerEvent("orderReceived", nil))
	eventually(t, time.Second, func() bool { return a.State().CountAt("approveOrder") > 0 })

	a.SetProperty("customer", map[string]interface{}{"tier": "gold"})
	b.SetProperty("customer", map[string]interface{}{"tier": "bronze"})

	byState := m.FindByState("approveOrder")
	require.Len(t, byState, 1)
	require.Equal(t, "a", byState[0].ProcessId())

	require.Len(t, m.FindByName("orders", true), 2)
	require.Len(t, m.FindByName("ORDERS", false), 2)
	require.Empty(t, m.FindByName("ORDERS", true))

	byProp := m.FindByProperty(map[string]interface{}{"customer.tier": "gold"})
	require.Len(t, byProp, 1)
	require.Equal(t, "a", byProp[0].ProcessId())
}

// A wait-task checkpoint written by one manager is rehydrated by the next:
// tokens, history, and properties survive, and the restored instance can be
// driven to completion.
func TestPersistAndRehydrate(t *testing.T) {
	store := inmemory.New()

	m1 := NewProcessManager(WithStore(store))
	require.NoError(t, m1.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))
	pi, err := m1.CreateProcessWithId("order-9", "orders")
	require.NoError(t, err)
	pi.SetProperty("sku", "widget")
	require.NoError(t, pi.TriggerEvent("orderReceived", nil))
	eventually(t, time.Second, func() bool { return pi.State().CountAt("approveOrder") > 0 })

	// Re-persist so the property set after the checkpoint is captured too.
	require.NoError(t, pi.TaskDone("approveOrder", nil))
	eventually(t, time.Second, func() bool { return pi.Views().EndEvent != nil })
	m1.Close(nil)

	m2 := NewProcessManager(WithStore(store))
	t.Cleanup(func() { m2.Close(nil) })
	require.NoError(t, m2.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))

	var restored *ProcessInstance
	eventually(t, time.Second, func() bool {
		r, ok := m2.GetInstance("order-9")
		restored = r
		return ok
	})

	require.Empty(t, restored.State().Tokens)
	require.NotNil(t, restored.Views().EndEvent)
	require.Equal(t, "orderDone", restored.Views().EndEvent.Name)
	names := []string{}
	for _, e := range restored.History().Entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"orderReceived", "approveOrder", "orderDone"}, names)

	// The restored instance still rejects re-triggering its start event.
	err = restored.TriggerEvent("orderReceived", nil)
	require.Error(t, err)
}

func TestRehydrateMidFlight(t *testing.T) {
	store := inmemory.New()

	m1 := NewProcessManager(WithStore(store))
	require.NoError(t, m1.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))
	pi, err := m1.CreateProcessWithId("order-10", "orders")
	require.NoError(t, err)
	require.NoError(t, pi.TriggerEvent("orderReceived", nil))
	eventually(t, time.Second, func() bool { return pi.State().CountAt("approveOrder") > 0 })
	m1.Close(nil)

	m2 := NewProcessManager(WithStore(store))
	t.Cleanup(func() { m2.Close(nil) })
	require.NoError(t, m2.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))

	var restored *ProcessInstance
	eventually(t, time.Second, func() bool {
		r, ok := m2.GetInstance("order-10")
		restored = r
		return ok && r.State().CountAt("approveOrder") > 0
	})

	require.NoError(t, restored.TaskDone("approveOrder", nil))
	eventually(t, time.Second, func() bool { return restored.Views().EndEvent != nil })
}

const collaborationXML = `<?xml version="1.0"?>
<definitions id="defs" name="shop" xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <collaboration id="collab">
    <participant id="partBuyer" name="buyer" processRef="buyerProc"/>
    <participant id="partSeller" name="seller" processRef="sellerProc"/>
    <messageFlow id="mf1" sourceRef="partBuyer" targetRef="catchOrder"/>
  </collaboration>
  <process id="buyerProc" name="buyer" isExecutable="true">
    <startEvent id="bs1" name="buyerStart"><outgoing>bf1</outgoing></startEvent>
    <task id="bt1" name="placeOrder"><incoming>bf1</incoming><outgoing>bf2</outgoing></task>
    <endEvent id="be1" name="buyerEnd"><incoming>bf2</incoming></endEvent>
    <sequenceFlow id="bf1" sourceRef="bs1" targetRef="bt1"/>
    <sequenceFlow id="bf2" sourceRef="bt1" targetRef="be1"/>
  </process>
  <process id="sellerProc" name="seller" isExecutable="true">
    <startEvent id="ss1" name="sellerStart"><outgoing>sf1</outgoing></startEvent>
    <intermediateCatchEvent id="catchOrder" name="orderIncoming"><incoming>sf1</incoming><outgoing>sf2</outgoing></intermediateCatchEvent>
    <endEvent id="se1" name="sellerEnd"><incoming>sf2</incoming></endEvent>
    <sequenceFlow id="sf1" sourceRef="ss1" targetRef="catchOrder"/>
    <sequenceFlow id="sf2" sourceRef="catchOrder" targetRef="se1"/>
  </process>
</definitions>`

func TestCollaborationMessageFlow(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("shop", "shop.bpmn", []byte(collaborationXML)))

	instances, err := m.CreateCollaboration([]ProcessDescriptor{
		{Id: "buyer-1", Name: "buyer", StartEventName: "buyerStart"},
		{Id: "seller-1", Name: "seller", StartEventName: "sellerStart"},
	})
	require.NoError(t, err)
	require.Len(t, instances, 2)
	buyer, seller := instances[0], instances[1]

	// The seller parks on its catch event; the buyer's message releases it.
	eventually(t, time.Second, func() bool { return seller.State().CountAt("orderIncoming") > 0 })

	flows := buyer.Definition().Definitions.MessageFlowsBySource("partBuyer")
	require.Len(t, flows, 1)
	require.NoError(t, buyer.SendMessage(flows[0], map[string]interface{}{"sku": "widget"}))

	eventually(t, time.Second, func() bool { return seller.Views().EndEvent != nil })
	require.Equal(t, "sellerEnd", seller.Views().EndEvent.Name)
}

func TestSendMessageWithoutExecutableTarget(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("shop", "shop.bpmn", []byte(collaborationXML)))
	instances, err := m.CreateCollaboration([]ProcessDescriptor{
		{Id: "buyer-2", Name: "buyer"},
	})
	require.NoError(t, err)

	flows := instances[0].Definition().Definitions.MessageFlowsBySource("partBuyer")
	require.Len(t, flows, 1)
	// The seller pool was never instantiated, so there is no participant to
	// deliver to.
	err = instances[0].SendMessage(flows[0], nil)
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	require.Equal(t, NoTarget, rerr.Kind)
}

func TestIdenticalRedeployIsNoOp(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))
	def1, ok := m.definitionByName("orders")
	require.True(t, ok)
	require.NoError(t, m.AddBpmnXML("orders", "orders.bpmn", []byte(waitTaskXML)))
	def2, ok := m.definitionByName("orders")
	require.True(t, ok)
	require.Equal(t, def1.Version, def2.Version)
	require.Same(t, def1, def2)
}
