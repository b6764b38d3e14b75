package bpmn

import (
	"sync"
	"time"

	"github.com/bpmnworks/engine/pkg/bpmn/exporter"
	"github.com/bpmnworks/engine/pkg/bpmn/handler"
	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
	"github.com/bpmnworks/engine/pkg/bpmn/runtime"
	"github.com/bpmnworks/engine/pkg/storage"
	"github.com/hashicorp/go-hclog"
)

// ProcessInstance is the token-flow state machine: it consumes
// the definition, mutates state/history, emits internal events, invokes
// handlers, and coordinates children. The manager exclusively owns
// instances; an instance exclusively owns its own state, history, timers
// and child-process map.
type ProcessInstance struct {
	mu sync.Mutex

	processId  string
	definition *runtime.ProcessDefinition
	handlers   *handler.Module
	manager    *ProcessManager
	logger     hclog.Logger
	intercept  hclog.InterceptLogger

	// parent is a non-owning back-reference used only to notify on
	// call-activity return; persistence walks parent -> child only.
	parent                 *ProcessInstance
	parentCallActivityName string

	// pendingParentId is set by restore() from a document's ParentToken and
	// resolved into parent/calledProcesses once every definition's
	// documents have been loaded (the parent instance may belong to a
	// definition that hasn't finished loading yet).
	pendingParentId string

	state      runtime.ProcessState
	history    runtime.ProcessHistory
	properties *runtime.Properties
	timers     *runtime.PendingTimerEvents
	views      runtime.Views

	participants    map[string]*ProcessInstance
	calledProcesses map[string]*ProcessInstance

	startedEvents map[string]bool

	queue    *eventQueue
	done     chan struct{}
	stopOnce sync.Once
}

func newProcessInstance(manager *ProcessManager, processId string, def *runtime.ProcessDefinition, h *handler.Module) *ProcessInstance {
	pi := &ProcessInstance{
		processId:       processId,
		definition:      def,
		handlers:        h,
		manager:         manager,
		properties:      runtime.NewProperties(),
		timers:          runtime.NewPendingTimerEvents(),
		participants:    map[string]*ProcessInstance{},
		calledProcesses: map[string]*ProcessInstance{},
		startedEvents:   map[string]bool{},
		queue:           newEventQueue(),
		done:            make(chan struct{}),
	}
	pi.intercept = hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:  manager.logger.Name() + ".instance",
		Level: hclog.Info,
	})
	pi.logger = pi.intercept.With("processId", processId)
	pi.history.CreatedAt = time.Now()
	go pi.run()
	return pi
}

func (pi *ProcessInstance) ProcessId() string { return pi.processId }

func (pi *ProcessInstance) Definition() *runtime.ProcessDefinition { return pi.definition }

func (pi *ProcessInstance) addParticipant(name string, peer *ProcessInstance) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.participants[name] = peer
}

// run is the instance's single logical execution thread: all token
// movement, handler invocation and state mutation happen here and never
// interleave with themselves.
func (pi *ProcessInstance) run() {
	for {
		ev, ok := pi.queue.next(pi.done)
		if !ok {
			return
		}
		pi.dispatch(ev)
	}
}

func (pi *ProcessInstance) dispatch(ev internalEvent) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	switch ev.kind {
	case eventTokenArrived:
		pi.onTokenArrived(ev.name, ev.data)
	case eventActivityEnd:
		pi.onActivityEnd(ev.name, ev.data)
	case eventIntermediateCatch:
		pi.onIntermediateCatch(ev.name, ev.data)
	case eventBoundaryCatch:
		pi.onBoundaryCatch(ev.name, ev.data)
	case eventCallActivityReturn:
		pi.onCallActivityReturn(ev.name, ev.data)
	}
}

// TriggerEvent resolves name against the definition: start events first,
// then intermediate catches, then boundary events, then the "<task>Done"
// wait-task completion shorthand.
func (pi *ProcessInstance) TriggerEvent(name string, data interface{}) error {
	fo, ok := pi.elementByName(name)
	if ok {
		if se, isStart := fo.(bpmn20.TStartEvent); isStart {
			pi.mu.Lock()
			defer pi.mu.Unlock()
			if pi.startedEvents[se.GetId()] {
				return newRuntimeError(AlreadyStarted, name, "start event already triggered")
			}
			pi.startedEvents[se.GetId()] = true
			pi.putTokenAt(se, data)
			return nil
		}
		if _, isCatch := fo.(bpmn20.TIntermediateCatchEvent); isCatch {
			go pi.queue.enqueue(internalEvent{kind: eventIntermediateCatch, name: name, data: data})
			return nil
		}
		if _, isBoundary := fo.(bpmn20.TBoundaryEvent); isBoundary {
			go pi.queue.enqueue(internalEvent{kind: eventBoundaryCatch, name: name, data: data})
			return nil
		}
	}
	const doneSuffix = "Done"
	if len(name) > len(doneSuffix) && name[len(name)-len(doneSuffix):] == doneSuffix {
		stripped := name[:len(name)-len(doneSuffix)]
		if target, ok := pi.elementByName(stripped); ok {
			if task, isTask := target.(bpmn20.TTask); isTask && task.IsWaitTask() {
				return pi.TaskDone(stripped, data)
			}
		}
	}
	return newRuntimeError(UnknownEvent, name, "no start/catch/boundary event or wait-task Done suffix matched")
}

// TaskDone enqueues ACTIVITY_END(name, data) for a wait-task.
func (pi *ProcessInstance) TaskDone(name string, data interface{}) error {
	pi.queue.enqueue(internalEvent{kind: eventActivityEnd, name: name, data: data})
	return nil
}

// SendMessage delegates to TriggerEvent for a plain string path, or resolves
// a message flow's target participant otherwise.
func (pi *ProcessInstance) SendMessage(target interface{}, data interface{}) error {
	if name, ok := target.(string); ok {
		return pi.TriggerEvent(name, data)
	}
	mf, ok := target.(bpmn20.TMessageFlow)
	if !ok {
		return newRuntimeError(NoTarget, "", "sendMessage target must be a string or message flow")
	}
	if mf.TargetProcessDefinitionId == "" {
		return newRuntimeError(NoTarget, mf.Id, "message flow target pool has no executable process")
	}
	pi.mu.Lock()
	peer, ok := pi.findParticipantByProcessId(mf.TargetProcessDefinitionId)
	pi.mu.Unlock()
	if !ok {
		return newRuntimeError(NoTarget, mf.Id, "no participant registered for target process")
	}
	targetFo, ok := peer.definition.Definitions.ElementById(mf.TargetRef)
	if !ok {
		return newRuntimeError(NoTarget, mf.Id, "target ref not found in target process")
	}
	return peer.TriggerEvent(targetFo.GetName(), data)
}

func (pi *ProcessInstance) findParticipantByProcessId(processDefId string) (*ProcessInstance, bool) {
	for _, peer := range pi.participants {
		if peer.definition.BpmnProcessId == processDefId {
			return peer, true
		}
	}
	return nil, false
}

// SetLogger, SetLogLevel and AddLogTransport are observer hooks: they shape
// what gets logged and where, and never affect engine semantics.
func (pi *ProcessInstance) SetLogger(l hclog.Logger) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.logger = l
}

func (pi *ProcessInstance) SetLogLevel(level hclog.Level) {
	pi.intercept.SetLevel(level)
}

func (pi *ProcessInstance) AddLogTransport(sink hclog.SinkAdapter) {
	pi.intercept.RegisterSink(sink)
}

func (pi *ProcessInstance) SetProperty(key string, value interface{}) {
	pi.properties.Set(key, value)
}

func (pi *ProcessInstance) GetProperty(key string) (interface{}, bool) {
	return pi.properties.Get(key)
}

func (pi *ProcessInstance) GetProperties() map[string]interface{} {
	return pi.properties.All()
}

// State returns a snapshot of the token set.
func (pi *ProcessInstance) State() runtime.ProcessState {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	out := runtime.ProcessState{Tokens: make([]runtime.Token, len(pi.state.Tokens))}
	copy(out.Tokens, pi.state.Tokens)
	return out
}

// History returns a snapshot of the history log.
func (pi *ProcessInstance) History() runtime.ProcessHistory {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	out := pi.history
	out.Entries = make([]runtime.HistoryEntry, len(pi.history.Entries))
	copy(out.Entries, pi.history.Entries)
	return out
}

// Views returns the derived summary; ActiveElementNames is recomputed from
// the live token set on every call.
func (pi *ProcessInstance) Views() runtime.Views {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	v := pi.views
	for _, t := range pi.state.Tokens {
		v.ActiveElementNames = append(v.ActiveElementNames, t.Position)
	}
	return v
}

func (pi *ProcessInstance) stop() {
	pi.stopOnce.Do(func() { close(pi.done) })
}

func (pi *ProcessInstance) storeRef() storage.Store {
	return pi.manager.store
}

// elementByName resolves name in this instance's own process. A definitions
// document holding several pools indexes every pool's elements together, so
// hits owned by another pool are filtered out here.
func (pi *ProcessInstance) elementByName(name string) (bpmn20.FlowNode, bool) {
	fo, ok := pi.definition.Definitions.ElementByName(name)
	if !ok {
		return nil, false
	}
	owner := pi.definition.Definitions.ProcessIdOf(fo.GetId())
	if owner != "" && pi.definition.BpmnProcessId != "" && owner != pi.definition.BpmnProcessId {
		return nil, false
	}
	return fo, true
}

func (pi *ProcessInstance) instanceEvent() exporter.InstanceEvent {
	return exporter.InstanceEvent{
		ProcessName: pi.definition.Name,
		ProcessId:   pi.processId,
		Version:     pi.definition.Version,
	}
}

func (pi *ProcessInstance) exportElement(fo bpmn20.FlowNode, intent exporter.Intent) {
	for _, e := range pi.manager.exporters {
		e.ElementEvent(pi.instanceEvent(), exporter.ElementInfo{
			ElementType: string(fo.GetType()),
			Name:        fo.GetName(),
			Intent:      intent,
		})
	}
}
