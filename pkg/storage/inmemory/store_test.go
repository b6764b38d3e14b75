package inmemory_test

import (
	"testing"

	"github.com/bpmnworks/engine/pkg/storage"
	"github.com/bpmnworks/engine/pkg/storage/inmemory"
	"github.com/bpmnworks/engine/pkg/storage/persistencetest"
)

func TestInMemoryStore(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) storage.Store {
		return inmemory.New()
	})
}
