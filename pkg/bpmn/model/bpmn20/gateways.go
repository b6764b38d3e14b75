package bpmn20

type TExclusiveGateway struct {
	TFlowNode
}

func (g TExclusiveGateway) GetType() ElementType { return ElementTypeExclusiveGateway }

type TParallelGateway struct {
	TFlowNode
}

func (g TParallelGateway) GetType() ElementType { return ElementTypeParallelGateway }
