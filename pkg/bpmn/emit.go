package bpmn

import (
	"time"

	"github.com/bpmnworks/engine/pkg/bpmn/exporter"
	"github.com/bpmnworks/engine/pkg/bpmn/handler"
	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
	"github.com/bpmnworks/engine/pkg/bpmn/runtime"
)

// putTokenAt places a token on fo, records history, and schedules the
// TOKEN_ARRIVED that runs its handler. Callers must hold pi.mu.
func (pi *ProcessInstance) putTokenAt(fo bpmn20.FlowNode, data interface{}) {
	pi.state.Tokens = append(pi.state.Tokens, runtime.Token{Position: fo.GetName(), OwningProcessId: pi.processId})
	pi.onFlowObjectBegin(fo, data)
}

func (pi *ProcessInstance) onFlowObjectBegin(fo bpmn20.FlowNode, data interface{}) {
	now := time.Now()
	entryType := runtime.HistoryEntryFlowObject
	if _, isCA := fo.(bpmn20.TCallActivity); isCA {
		entryType = runtime.HistoryEntryCallActivity
	}
	pi.history.Begin(fo.GetName(), entryType, now)
	if _, isStart := fo.(bpmn20.TStartEvent); isStart {
		pi.views.StartEvent = &runtime.ElementView{Name: fo.GetName(), At: now}
	}
	if fn, ok := pi.handlers.Token(handler.HookOnBeginHandler); ok {
		fn(map[string]interface{}{"name": fo.GetName(), "data": data}, func(interface{}, error) {})
	}
	pi.exportElement(fo, exporter.ElementActivated)
	pi.queue.enqueue(internalEvent{kind: eventTokenArrived, name: fo.GetName(), data: data})
}

func (pi *ProcessInstance) onFlowObjectEnd(fo bpmn20.FlowNode, data interface{}) {
	pi.history.End(fo.GetName(), time.Now())
	if fn, ok := pi.handlers.Token(handler.HookOnEndHandler); ok {
		fn(map[string]interface{}{"name": fo.GetName(), "data": data}, func(interface{}, error) {})
	}
	pi.exportElement(fo, exporter.ElementCompleted)
}

// onTokenArrived runs the arrival handler and, on its done callback,
// dispatches to the variant-specific continuation.
func (pi *ProcessInstance) onTokenArrived(name string, data interface{}) {
	fo, ok := pi.elementByName(name)
	if !ok {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "flow object no longer present"))
		return
	}
	continuation := func(result interface{}, err error) {
		if err != nil {
			pi.raiseDefaultError(err)
			return
		}
		pi.registerBoundaryTimers(fo)

		switch v := fo.(type) {
		case bpmn20.TTask:
			if v.IsWaitTask() {
				pi.persist()
				return
			}
			pi.emitTokens(fo, result)
		case bpmn20.TCallActivity:
			pi.enterCalledProcess(v, result)
		case bpmn20.TIntermediateCatchEvent:
			if v.IsTimerEvent() {
				pi.scheduleTimer(v, result)
				return
			}
			pi.persist()
		default:
			// Exclusive/parallel gateways, end events and plain flow
			// objects all route through the universal advance primitive;
			// their variant behavior lives in emitTokens's own switch.
			pi.emitTokens(fo, result)
		}
	}
	pi.invokeTokenFor(fo, data, continuation)
}

// invokeTokenFor is invokeToken with one extra fallback: a scriptTask that
// carries an inline script body but has no registered handler function runs
// that body through the manager's script runtime instead of passing data
// straight through.
func (pi *ProcessInstance) invokeTokenFor(fo bpmn20.FlowNode, data interface{}, continuation func(interface{}, error)) {
	if _, ok := pi.handlers.Token(fo.GetName()); !ok {
		if task, isTask := fo.(bpmn20.TTask); isTask && task.TaskType == "scriptTask" && task.Script != "" {
			if pi.manager.scripts == nil {
				continuation(nil, newConfigErrorf("scriptTask %q has an inline script but no script runtime is configured", fo.GetName()))
				return
			}
			result, err := pi.manager.scripts.RunScript(task.Script, data)
			continuation(result, err)
			return
		}
	}
	pi.invokeToken(fo.GetName(), data, continuation)
}

// onActivityEnd handles ACTIVITY_END: requires a token at name.
func (pi *ProcessInstance) onActivityEnd(name string, data interface{}) {
	if pi.state.CountAt(name) == 0 {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "ACTIVITY_END with no matching token"))
		return
	}
	fo, ok := pi.elementByName(name)
	if !ok {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "flow object no longer present"))
		return
	}
	pi.invokeToken(name+"Done", data, func(result interface{}, err error) {
		if err != nil {
			pi.raiseDefaultError(err)
			return
		}
		pi.emitTokens(fo, result)
	})
}

// onIntermediateCatch handles INTERMEDIATE_CATCH.
func (pi *ProcessInstance) onIntermediateCatch(name string, data interface{}) {
	if pi.state.CountAt(name) == 0 {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "INTERMEDIATE_CATCH with no matching token"))
		return
	}
	fo, ok := pi.elementByName(name)
	if !ok {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "flow object no longer present"))
		return
	}
	pi.invokeToken(name, data, func(result interface{}, err error) {
		if err != nil {
			pi.raiseDefaultError(err)
			return
		}
		pi.emitTokens(fo, result)
	})
}

// onBoundaryCatch handles BOUNDARY_CATCH: if the attached
// activity currently holds a token, a new token is placed on the boundary
// event, which progresses normally via TOKEN_ARRIVED; emitTokens
// is responsible for actually clearing the attached activity's token once
// the boundary event's own token is consumed.
func (pi *ProcessInstance) onBoundaryCatch(name string, data interface{}) {
	be, ok := pi.elementByName(name)
	if !ok {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "boundary event not found"))
		return
	}
	boundary, ok := be.(bpmn20.TBoundaryEvent)
	if !ok {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "not a boundary event"))
		return
	}
	attached, ok := pi.definition.Definitions.ElementById(boundary.AttachedToRef)
	if !ok || pi.state.CountAt(attached.GetName()) == 0 {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "attached activity has no active token"))
		return
	}
	pi.putTokenAt(boundary, data)
}

// invokeToken resolves the canonicalized handler for name (falling back to
// an immediate pass-through when no handler module is registered for it)
// and calls continuation with its result.
func (pi *ProcessInstance) invokeToken(name string, data interface{}, continuation func(interface{}, error)) {
	fn, ok := pi.handlers.Token(name)
	if !ok {
		continuation(data, nil)
		return
	}
	fn(data, func(result interface{}, err error) {
		continuation(result, err)
	})
}

func (pi *ProcessInstance) raiseDefaultError(err error) {
	if rerr, ok := err.(*RuntimeError); ok && rerr.Kind.fatal() {
		pi.logger.Error("fatal runtime error", "kind", rerr.Kind, "element", rerr.Element, "msg", rerr.Msg)
		return
	}
	pi.logger.Debug("routed to default event handler", "error", err)
	if fn, ok := pi.handlers.Token(handler.HookDefaultEventHandler); ok {
		fn(err, func(interface{}, error) {})
		return
	}
	if fn, ok := pi.handlers.Token(handler.HookDefaultErrorHandler); ok {
		fn(err, func(interface{}, error) {})
	}
}

// emitTokens is the universal advance primitive: consume the token at fo,
// clear timers tied to it, then run the variant-specific continuation.
func (pi *ProcessInstance) emitTokens(fo bpmn20.FlowNode, data interface{}) {
	pi.state.RemoveFirstAt(fo.GetName())

	if boundary, isBoundary := fo.(bpmn20.TBoundaryEvent); isBoundary {
		if attached, ok := pi.definition.Definitions.ElementById(boundary.AttachedToRef); ok {
			pi.state.RemoveFirstAt(attached.GetName())
			pi.onFlowObjectEnd(attached, data)
			pi.clearBoundaryTimers(attached)
		}
	}
	pi.timers.Clear(fo.GetName())
	pi.clearBoundaryTimers(fo)

	switch v := fo.(type) {
	case bpmn20.TExclusiveGateway:
		pi.emitExclusiveGateway(v, data)
	case bpmn20.TParallelGateway:
		pi.emitParallelGateway(v, data)
	case bpmn20.TEndEvent:
		pi.emitEndEvent(v, data)
	case bpmn20.TCallActivity:
		pi.emitCallActivityReturn(v, data)
	default:
		pi.emitDefault(fo, data)
	}
}

// emitDefault is the default variant: fire onFlowObjectEnd, then place a
// token on every outgoing flow's target.
func (pi *ProcessInstance) emitDefault(fo bpmn20.FlowNode, data interface{}) {
	pi.onFlowObjectEnd(fo, data)
	for _, sf := range pi.definition.Definitions.SequenceFlowsBySource(fo.GetId()) {
		target, ok := pi.definition.Definitions.ElementById(sf.TargetRef)
		if !ok {
			continue
		}
		pi.putTokenAt(target, data)
	}
}
