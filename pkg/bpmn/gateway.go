package bpmn

import (
	"time"

	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
	"github.com/bpmnworks/engine/pkg/bpmn/runtime"
)

// emitExclusiveGateway routes an exclusive gateway. A single outgoing flow is taken unconditionally; a diverging gateway asks
// each outgoing flow's predicate handler in definition order and takes the
// first truthy one. If none answer truthy the token is dropped and the
// branch is left unexecuted; no fallback arc is taken.
func (pi *ProcessInstance) emitExclusiveGateway(gw bpmn20.TExclusiveGateway, data interface{}) {
	pi.history.End(gw.GetName(), time.Now())
	outs := pi.definition.Definitions.SequenceFlowsBySource(gw.GetId())
	if len(outs) <= 1 {
		for _, sf := range outs {
			if target, ok := pi.definition.Definitions.ElementById(sf.TargetRef); ok {
				pi.putTokenAt(target, data)
			}
		}
		return
	}
	for _, sf := range outs {
		pred, ok := pi.handlers.Predicate(gw.GetName(), sf.Name)
		if !ok || !pred(data) {
			continue
		}
		target, ok := pi.definition.Definitions.ElementById(sf.TargetRef)
		if !ok {
			return
		}
		pi.putTokenAt(target, data)
		return
	}
	pi.logger.Debug("exclusive gateway: no branch predicate returned true, token dropped", "gateway", gw.GetName())
}

// emitParallelGateway joins and forks a parallel gateway: a
// token is created at the gateway's own position on every arrival and
// counted against the number of incoming flows. Once the count matches, all
// tokens at the gateway are removed and every outgoing flow is taken;
// otherwise the partial join is persisted so a crash doesn't lose the
// count.
func (pi *ProcessInstance) emitParallelGateway(gw bpmn20.TParallelGateway, data interface{}) {
	pi.state.Tokens = append(pi.state.Tokens, runtime.Token{Position: gw.GetName(), OwningProcessId: pi.processId})

	incoming := len(pi.definition.Definitions.SequenceFlowsByTarget(gw.GetId()))
	if pi.state.CountAt(gw.GetName()) < incoming {
		pi.persist()
		return
	}

	pi.state.RemoveAllAt(gw.GetName())
	pi.onFlowObjectEnd(gw, data)
	for _, sf := range pi.definition.Definitions.SequenceFlowsBySource(gw.GetId()) {
		if target, ok := pi.definition.Definitions.ElementById(sf.TargetRef); ok {
			pi.putTokenAt(target, data)
		}
	}
}
