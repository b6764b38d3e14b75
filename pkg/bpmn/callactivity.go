package bpmn

import (
	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
)

// enterCalledProcess starts a call activity's sub-process: the
// call-activity token already placed by putTokenAt is stamped with the
// child's process id, the called definition is instantiated, parent/child
// are linked, and the child's single start event is triggered.
func (pi *ProcessInstance) enterCalledProcess(ca bpmn20.TCallActivity, data interface{}) {
	def, ok := pi.manager.definitionByName(ca.CalledElement)
	if !ok {
		pi.raiseDefaultError(newRuntimeError(BadCalledProcess, ca.GetName(), "called element "+ca.CalledElement+" is not a registered definition"))
		return
	}
	starts := def.Definitions.StartEventsOf(def.BpmnProcessId)
	if len(starts) != 1 {
		pi.raiseDefaultError(newRuntimeError(BadCalledProcess, ca.GetName(), "called process must have exactly one start event"))
		return
	}

	childId := pi.processId + "::" + ca.GetName()
	h := pi.manager.handlerFor(def.Name)

	for i := range pi.state.Tokens {
		if pi.state.Tokens[i].Position == ca.GetName() && pi.state.Tokens[i].CalledProcessId == "" {
			pi.state.Tokens[i].CalledProcessId = childId
			break
		}
	}

	child := newProcessInstance(pi.manager, childId, def, h)
	child.parent = pi
	child.parentCallActivityName = ca.GetName()
	pi.calledProcesses[childId] = child
	pi.manager.registerInstance(child)

	if err := child.TriggerEvent(starts[0].GetName(), data); err != nil {
		pi.raiseDefaultError(err)
	}
}

// onCallActivityReturn handles the "Returning" half: the call activity's
// default emitTokens runs in the parent, then the child is unregistered.
func (pi *ProcessInstance) onCallActivityReturn(name string, payload interface{}) {
	ret, ok := payload.(callActivityReturn)
	if !ok {
		return
	}
	fo, ok := pi.elementByName(name)
	if !ok {
		pi.raiseDefaultError(newRuntimeError(NotExecuting, name, "call activity no longer present"))
		return
	}
	if child, ok := pi.calledProcesses[ret.childProcessId]; ok {
		sub := child.History()
		pi.history.AttachSubhistory(name, &sub)
	}
	pi.emitTokens(fo, ret.data)
	delete(pi.calledProcesses, ret.childProcessId)
}

// emitCallActivityReturn is the variant-specific emitTokens behavior once a
// call activity's child has ended: it behaves like the default flow-object
// case (onFlowObjectEnd, then emit along every outgoing flow).
func (pi *ProcessInstance) emitCallActivityReturn(ca bpmn20.TCallActivity, data interface{}) {
	pi.emitDefault(ca, data)
}

// notifyParentOfReturn posts the call activity's end back to the parent's
// own queue so it is processed on the parent's single logical thread,
// rather than mutating the parent's state directly from the child's
// goroutine.
func (pi *ProcessInstance) notifyParentOfReturn(data interface{}) {
	parent := pi.parent
	parent.queue.enqueue(internalEvent{
		kind: eventCallActivityReturn,
		name: pi.parentCallActivityName,
		data: callActivityReturn{childProcessId: pi.processId, data: data},
	})
}
