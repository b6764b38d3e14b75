package bpmn20

import (
	"encoding/xml"
	"fmt"
)

type TProcess struct {
	TBaseElement
	Name         string `xml:"name,attr"`
	IsExecutable bool   `xml:"isExecutable,attr"`

	StartEvents            []TStartEvent             `xml:"startEvent"`
	EndEvents              []TEndEvent               `xml:"endEvent"`
	Tasks                  []TTask                   `xml:"task"`
	UserTasks              []TTask                   `xml:"userTask"`
	ReceiveTasks           []TTask                   `xml:"receiveTask"`
	ManualTasks            []TTask                   `xml:"manualTask"`
	ServiceTasks           []TTask                   `xml:"serviceTask"`
	ScriptTasks            []TTask                   `xml:"scriptTask"`
	SendTasks              []TTask                   `xml:"sendTask"`
	CallActivities         []TCallActivity           `xml:"callActivity"`
	IntermediateCatchEvents []TIntermediateCatchEvent `xml:"intermediateCatchEvent"`
	BoundaryEvents         []TBoundaryEvent          `xml:"boundaryEvent"`
	ExclusiveGateways      []TExclusiveGateway       `xml:"exclusiveGateway"`
	ParallelGateways       []TParallelGateway        `xml:"parallelGateway"`
	SequenceFlows          []TSequenceFlow           `xml:"sequenceFlow"`
}

// taggedTasks folds the per-element-name task slices (each carrying its
// BPMN tag implicitly through which slice it was decoded into) into one
// list, stamping TaskType so IsWaitTask can discriminate.
func (p *TProcess) taggedTasks() []TTask {
	var all []TTask
	add := func(tasks []TTask, kind string) {
		for _, t := range tasks {
			t.TaskType = kind
			all = append(all, t)
		}
	}
	add(p.Tasks, "task")
	add(p.UserTasks, "userTask")
	add(p.ReceiveTasks, "receiveTask")
	add(p.ManualTasks, "manualTask")
	add(p.ServiceTasks, "serviceTask")
	add(p.ScriptTasks, "scriptTask")
	add(p.SendTasks, "sendTask")
	return all
}

type TCollaboration struct {
	TBaseElement
	Participants []TParticipant `xml:"participant"`
	MessageFlows []TMessageFlow `xml:"messageFlow"`
}

type TDefinitions struct {
	TBaseElement
	Name               string          `xml:"name,attr"`
	TargetNamespace    string          `xml:"targetNamespace,attr"`
	Processes          []TProcess      `xml:"process"`
	Collaboration      *TCollaboration `xml:"collaboration"`

	elementById               map[string]FlowNode
	elementToProcessId        map[string]string
	sequenceFlowById          map[string]TSequenceFlow
	sequenceFlowBySource      map[string][]TSequenceFlow
	sequenceFlowByTarget      map[string][]TSequenceFlow
	messageFlowBySource       map[string][]TMessageFlow
	messageFlowByTarget       map[string][]TMessageFlow
	boundaryEventsByAttached  map[string][]TBoundaryEvent
	nameToId                  map[string]string
	participantByProcessId    map[string]TParticipant
}

// UnmarshalXML unmarshals into a type alias to avoid infinite recursion;
// BuildIndices runs separately so callers get the full parse-error queue.
func (d *TDefinitions) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	type alias TDefinitions
	aux := &struct{ *alias }{alias: (*alias)(d)}
	if err := dec.DecodeElement(aux, &start); err != nil {
		return fmt.Errorf("decode definitions: %w", err)
	}
	return nil
}

// BuildIndices resolves references and populates the lookup indices. It
// must run once after unmarshalling, and returns the accumulated
// ParseErrors (if any) rather than a single error so a caller can report
// every invariant violation at once.
func (d *TDefinitions) BuildIndices() []ParseError {
	var errs []ParseError

	d.elementById = map[string]FlowNode{}
	d.elementToProcessId = map[string]string{}
	d.sequenceFlowById = map[string]TSequenceFlow{}
	d.sequenceFlowBySource = map[string][]TSequenceFlow{}
	d.sequenceFlowByTarget = map[string][]TSequenceFlow{}
	d.messageFlowBySource = map[string][]TMessageFlow{}
	d.messageFlowByTarget = map[string][]TMessageFlow{}
	d.boundaryEventsByAttached = map[string][]TBoundaryEvent{}
	d.nameToId = map[string]string{}
	d.participantByProcessId = map[string]TParticipant{}

	seenNames := map[string]map[string]bool{}

	for pi := range d.Processes {
		p := &d.Processes[pi]
		names := map[string]bool{}
		seenNames[p.Id] = names

		register := func(fn FlowNode) {
			d.elementById[fn.GetId()] = fn
			d.elementToProcessId[fn.GetId()] = p.Id
			if fn.GetName() != "" {
				if names[fn.GetName()] {
					errs = append(errs, ParseError{Code: "DUPLICATE_NAME", Element: fn.GetId(), Message: fmt.Sprintf("flow object name %q is not unique in process %q", fn.GetName(), p.Id)})
				}
				names[fn.GetName()] = true
				d.nameToId[fn.GetName()] = fn.GetId()
			}
		}

		for i := range p.StartEvents {
			fn := p.StartEvents[i]
			register(fn)
			if len(fn.Incoming()) != 0 {
				errs = append(errs, ParseError{Code: "START_EVENT_HAS_INCOMING", Element: fn.GetId(), Message: "start event must have no incoming flow"})
			}
			if len(fn.Outgoing()) == 0 {
				errs = append(errs, ParseError{Code: "START_EVENT_NO_OUTGOING", Element: fn.GetId(), Message: "start event must have at least one outgoing flow"})
			}
		}
		for i := range p.EndEvents {
			fn := p.EndEvents[i]
			register(fn)
			if len(fn.Outgoing()) != 0 {
				errs = append(errs, ParseError{Code: "END_EVENT_HAS_OUTGOING", Element: fn.GetId(), Message: "end event must have no outgoing flow"})
			}
			if len(fn.Incoming()) == 0 {
				errs = append(errs, ParseError{Code: "END_EVENT_NO_INCOMING", Element: fn.GetId(), Message: "end event must have at least one incoming flow"})
			}
		}
		for _, fn := range p.taggedTasks() {
			register(fn)
		}
		for i := range p.CallActivities {
			register(p.CallActivities[i])
		}
		for i := range p.IntermediateCatchEvents {
			register(p.IntermediateCatchEvents[i])
		}
		for i := range p.ExclusiveGateways {
			fn := p.ExclusiveGateways[i]
			register(fn)
			if len(fn.Incoming()) < 2 && len(fn.Outgoing()) < 2 {
				errs = append(errs, ParseError{Code: "GATEWAY_CARDINALITY", Element: fn.GetId(), Message: "exclusive gateway requires >=2 incoming or >=2 outgoing"})
			}
		}
		for i := range p.ParallelGateways {
			fn := p.ParallelGateways[i]
			register(fn)
			if len(fn.Incoming()) < 2 && len(fn.Outgoing()) < 2 {
				errs = append(errs, ParseError{Code: "GATEWAY_CARDINALITY", Element: fn.GetId(), Message: "parallel gateway requires >=2 incoming or >=2 outgoing"})
			}
		}
		for i := range p.BoundaryEvents {
			be := p.BoundaryEvents[i]
			register(be)
			d.boundaryEventsByAttached[be.AttachedToRef] = append(d.boundaryEventsByAttached[be.AttachedToRef], be)
			attached, ok := d.elementById[be.AttachedToRef]
			if !ok {
				errs = append(errs, ParseError{Code: "BOUNDARY_TARGET_MISSING", Element: be.Id, Message: fmt.Sprintf("attachedToRef %q not found", be.AttachedToRef)})
				continue
			}
			task, ok := attached.(TTask)
			if !ok || !task.IsWaitTask() {
				errs = append(errs, ParseError{Code: "BOUNDARY_ON_NON_WAIT_TASK", Element: be.Id, Message: "boundary events attach only to wait-tasks"})
			}
		}
		for i := range p.SequenceFlows {
			sf := p.SequenceFlows[i]
			d.sequenceFlowById[sf.Id] = sf
			d.sequenceFlowBySource[sf.SourceRef] = append(d.sequenceFlowBySource[sf.SourceRef], sf)
			d.sequenceFlowByTarget[sf.TargetRef] = append(d.sequenceFlowByTarget[sf.TargetRef], sf)
		}
		for _, fn := range p.ExclusiveGateways {
			outs := d.sequenceFlowBySource[fn.GetId()]
			if len(outs) > 1 {
				for _, out := range outs {
					if out.Name == "" {
						errs = append(errs, ParseError{Code: "UNNAMED_BRANCH", Element: fn.GetId(), Message: fmt.Sprintf("outgoing flow %q of diverging exclusive gateway must be named", out.Id)})
					}
				}
			}
		}
	}

	if d.Collaboration != nil {
		for _, part := range d.Collaboration.Participants {
			d.participantByProcessId[part.ProcessRef] = part
		}
		for i := range d.Collaboration.MessageFlows {
			mf := &d.Collaboration.MessageFlows[i]
			mf.SourceProcessDefinitionId = d.processIdOfParticipantRef(mf.SourceRef)
			mf.TargetProcessDefinitionId = d.processIdOfParticipantRef(mf.TargetRef)
			d.messageFlowBySource[mf.SourceRef] = append(d.messageFlowBySource[mf.SourceRef], *mf)
			d.messageFlowByTarget[mf.TargetRef] = append(d.messageFlowByTarget[mf.TargetRef], *mf)
		}
	}

	return errs
}

// processIdOfParticipantRef resolves a message-flow endpoint to the process
// that will send or receive it: the endpoint may name a participant (pool)
// directly, or a flow object inside one of the pools.
func (d *TDefinitions) processIdOfParticipantRef(ref string) string {
	for _, part := range d.Collaboration.Participants {
		if part.Id == ref {
			return part.ProcessRef
		}
	}
	return d.elementToProcessId[ref]
}

func (d *TDefinitions) ElementById(id string) (FlowNode, bool) {
	fn, ok := d.elementById[id]
	return fn, ok
}

func (d *TDefinitions) ElementByName(name string) (FlowNode, bool) {
	id, ok := d.nameToId[name]
	if !ok {
		return nil, false
	}
	return d.ElementById(id)
}

func (d *TDefinitions) SequenceFlowsBySource(id string) []TSequenceFlow {
	return d.sequenceFlowBySource[id]
}

func (d *TDefinitions) SequenceFlowsByTarget(id string) []TSequenceFlow {
	return d.sequenceFlowByTarget[id]
}

func (d *TDefinitions) MessageFlowsBySource(participantId string) []TMessageFlow {
	return d.messageFlowBySource[participantId]
}

func (d *TDefinitions) BoundaryEventsFor(activityId string) []TBoundaryEvent {
	return d.boundaryEventsByAttached[activityId]
}

func (d *TDefinitions) Participant(processId string) (TParticipant, bool) {
	p, ok := d.participantByProcessId[processId]
	return p, ok
}

// Process returns the single process element this definitions document
// carries. Collaborations with multiple pools still parse one <process>
// per participant; callers index by BpmnProcessId via the manager.
func (d *TDefinitions) Process() *TProcess {
	if len(d.Processes) == 0 {
		return nil
	}
	return &d.Processes[0]
}

func (d *TDefinitions) StartEvents() []TStartEvent {
	return d.Process().StartEvents
}

// ProcessIdOf returns the id of the process containing elementId, or ""
// when the element is unknown.
func (d *TDefinitions) ProcessIdOf(elementId string) string {
	return d.elementToProcessId[elementId]
}

// StartEventsOf returns the start events of the process identified by
// processId, falling back to the first process when processId is empty.
func (d *TDefinitions) StartEventsOf(processId string) []TStartEvent {
	for i := range d.Processes {
		if d.Processes[i].Id == processId {
			return d.Processes[i].StartEvents
		}
	}
	return d.StartEvents()
}
