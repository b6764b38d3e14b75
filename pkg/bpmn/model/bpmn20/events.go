package bpmn20

type TTimerEventDefinition struct {
	TimeDuration string `xml:"timeDuration"`
}

type TStartEvent struct {
	TFlowNode
}

func (e TStartEvent) GetType() ElementType { return ElementTypeStartEvent }

type TEndEvent struct {
	TFlowNode
}

func (e TEndEvent) GetType() ElementType { return ElementTypeEndEvent }

type TIntermediateCatchEvent struct {
	TFlowNode
	TimerEventDefinition *TTimerEventDefinition `xml:"timerEventDefinition"`
}

func (e TIntermediateCatchEvent) GetType() ElementType { return ElementTypeIntermediateCatchEvent }

func (e TIntermediateCatchEvent) IsTimerEvent() bool { return e.TimerEventDefinition != nil }

// TBoundaryEvent attaches to a wait-task. Only timer boundary events are
// supported.
type TBoundaryEvent struct {
	TFlowNode
	AttachedToRef        string                 `xml:"attachedToRef,attr"`
	CancelActivity       bool                   `xml:"cancelActivity,attr" default:"true"`
	TimerEventDefinition *TTimerEventDefinition `xml:"timerEventDefinition"`
}

func (e TBoundaryEvent) GetType() ElementType { return ElementTypeBoundaryEvent }

func (e TBoundaryEvent) IsTimerEvent() bool { return e.TimerEventDefinition != nil }
