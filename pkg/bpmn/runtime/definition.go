package runtime

import (
	"crypto/md5"

	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
)

// ProcessDefinition wraps the immutable bpmn20 definition graph with the
// deployment metadata the manager needs: versioning,
// the raw source for re-checksumming, and the resource name it was loaded
// from.
type ProcessDefinition struct {
	BpmnProcessId    string
	Name             string
	Version          int32
	ProcessKey       int64
	Definitions      *bpmn20.TDefinitions
	BpmnData         []byte
	BpmnResourceName string
	BpmnChecksum     [16]byte
}

func Checksum(data []byte) [16]byte {
	return md5.Sum(data)
}
