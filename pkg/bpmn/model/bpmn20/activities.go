package bpmn20

// TTask covers task/userTask/receiveTask/manualTask (wait-tasks, completed
// externally via taskDone) and serviceTask/scriptTask/sendTask (the handler
// completes them synchronously via its done callback). TaskType carries the
// original BPMN element name so the engine can tell the two families apart.
type TTask struct {
	TFlowNode
	TaskType string `xml:"-"`
	// Script carries a scriptTask's inline <script> body, if any. A
	// scriptTask with no inline body falls back to a registered handler
	// function like any other non-wait task.
	Script string `xml:"script"`
}

func (t TTask) GetType() ElementType { return ElementTypeTask }

func (t TTask) IsWaitTask() bool {
	switch t.TaskType {
	case "task", "userTask", "receiveTask", "manualTask":
		return true
	default:
		return false
	}
}

type TCallActivity struct {
	TFlowNode
	CalledElement          string `xml:"calledElement,attr"`
	CalledElementNamespace string `xml:"calledElementNamespace,attr"`
	Location               string `xml:"location,attr"`
}

func (c TCallActivity) GetType() ElementType { return ElementTypeCallActivity }
