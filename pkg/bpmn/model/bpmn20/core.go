// Package bpmn20 holds the immutable BPMN 2.0 definition graph, an
// encoding/xml based model trimmed to the flow-object variants this engine
// actually executes.
package bpmn20

import (
	"fmt"
)

type ElementType string

const (
	ElementTypeStartEvent             ElementType = "START_EVENT"
	ElementTypeEndEvent               ElementType = "END_EVENT"
	ElementTypeTask                   ElementType = "TASK"
	ElementTypeCallActivity           ElementType = "CALL_ACTIVITY"
	ElementTypeIntermediateCatchEvent ElementType = "INTERMEDIATE_CATCH_EVENT"
	ElementTypeBoundaryEvent          ElementType = "BOUNDARY_EVENT"
	ElementTypeExclusiveGateway       ElementType = "EXCLUSIVE_GATEWAY"
	ElementTypeParallelGateway        ElementType = "PARALLEL_GATEWAY"
)

// BaseElement is implemented by every referenceable BPMN element.
type BaseElement interface {
	GetId() string
}

type TBaseElement struct {
	Id string `xml:"id,attr"`
}

func (t TBaseElement) GetId() string { return t.Id }

// FlowNode is the common shape of every element that can hold a token.
type FlowNode interface {
	BaseElement
	GetName() string
	GetType() ElementType
	Incoming() []string
	Outgoing() []string
}

type TFlowNode struct {
	TBaseElement
	Name                string   `xml:"name,attr"`
	IncomingAssociation []string `xml:"incoming"`
	OutgoingAssociation []string `xml:"outgoing"`
}

func (fn TFlowNode) GetName() string    { return fn.Name }
func (fn TFlowNode) Incoming() []string { return fn.IncomingAssociation }
func (fn TFlowNode) Outgoing() []string { return fn.OutgoingAssociation }

type TSequenceFlow struct {
	TBaseElement
	Name      string `xml:"name,attr"`
	SourceRef string `xml:"sourceRef,attr"`
	TargetRef string `xml:"targetRef,attr"`
}

func (sf TSequenceFlow) GetName() string { return sf.Name }

type TMessageFlow struct {
	TBaseElement
	Name      string `xml:"name,attr"`
	SourceRef string `xml:"sourceRef,attr"`
	TargetRef string `xml:"targetRef,attr"`

	// SourceProcessDefinitionId/TargetProcessDefinitionId are resolved after
	// parsing by walking the participant each endpoint belongs to.
	SourceProcessDefinitionId string `xml:"-"`
	TargetProcessDefinitionId string `xml:"-"`
}

type TParticipant struct {
	TBaseElement
	Name       string `xml:"name,attr"`
	ProcessRef string `xml:"processRef,attr"`
}

// ParseError is a single invariant violation found while building the
// definition graph; ParseErrors accumulate into a queue (see error.go).
type ParseError struct {
	Code    string
	Element string
	Message string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Element, e.Message)
}
