// Package persistencetest is a shared conformance suite any storage.Store
// implementation can be run against.
package persistencetest

import (
	"testing"

	"github.com/bpmnworks/engine/pkg/storage"
	"github.com/stretchr/testify/require"
)

// Run exercises the full storage.Store contract against a freshly
// constructed store, calling newStore() once per subtest so implementations
// that open connections can be torn down cleanly.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("LoadMissingReturnsNotFound", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		_, err := s.Load("orders", "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PersistThenLoadRoundTrips", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		doc := storage.Document{
			ProcessName: "orders",
			ProcessId:   "1",
			Properties:  map[string]interface{}{"sku": "widget"},
			State:       []byte(`{"tokens":[]}`),
			History:     []byte(`{"entries":[]}`),
		}
		require.NoError(t, s.Persist(doc))
		got, err := s.Load("orders", "1")
		require.NoError(t, err)
		require.Equal(t, doc.ProcessId, got.ProcessId)
		require.Equal(t, doc.Properties["sku"], got.Properties["sku"])
	})

	t.Run("PersistOverwritesSameKey", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		require.NoError(t, s.Persist(storage.Document{ProcessName: "orders", ProcessId: "1", State: []byte("v1")}))
		require.NoError(t, s.Persist(storage.Document{ProcessName: "orders", ProcessId: "1", State: []byte("v2")}))
		got, err := s.Load("orders", "1")
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), got.State)
	})

	t.Run("LoadAllFiltersByProcessName", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		require.NoError(t, s.Persist(storage.Document{ProcessName: "orders", ProcessId: "1"}))
		require.NoError(t, s.Persist(storage.Document{ProcessName: "orders", ProcessId: "2"}))
		require.NoError(t, s.Persist(storage.Document{ProcessName: "shipping", ProcessId: "1"}))
		docs, err := s.LoadAll("orders")
		require.NoError(t, err)
		require.Len(t, docs, 2)
	})
}
