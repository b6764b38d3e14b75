package bpmn

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bpmnworks/engine/pkg/bpmn/handler"
	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
	"github.com/bpmnworks/engine/pkg/bpmn/runtime"
	"github.com/bpmnworks/engine/pkg/ptr"
	"github.com/bpmnworks/engine/pkg/storage"
)

// persist writes the instance's current state to the configured store. A
// nil store (no persistence backend configured) makes this a no-op. While
// the write is in flight the instance's event queue is deferred, so nothing
// externally triggered can interleave with a checkpoint; a failed write
// leaves the queue deferred and the instance frozen until an operator
// intervenes. Callers must hold pi.mu.
func (pi *ProcessInstance) persist() {
	store := pi.storeRef()
	if store == nil {
		return
	}
	doc, err := pi.toDocument()
	if err != nil {
		pi.logger.Error("failed to encode process instance for persistence", "error", err)
		return
	}
	pi.queue.defer_()
	err = store.Persist(doc)
	pi.notifySaved(err)
	if err != nil {
		pi.logger.Error("failed to persist process instance, freezing event queue", "error", err)
		return
	}
	pi.queue.release()
}

func (pi *ProcessInstance) notifySaved(err error) {
	if fn, ok := pi.handlers.Token(handler.HookDoneSavingHandler); ok {
		var payload interface{}
		if err != nil {
			payload = &storage.StoreError{Op: "persist", Err: err}
		}
		fn(payload, func(interface{}, error) {})
	}
}

func (pi *ProcessInstance) notifyLoaded(err error) {
	if fn, ok := pi.handlers.Token(handler.HookDoneLoadingHandler); ok {
		var payload interface{}
		if err != nil {
			payload = &storage.StoreError{Op: "load", Err: err}
		}
		fn(payload, func(interface{}, error) {})
	}
}

func (pi *ProcessInstance) toDocument() (storage.Document, error) {
	state, err := json.Marshal(pi.documentState())
	if err != nil {
		return storage.Document{}, fmt.Errorf("marshal state: %w", err)
	}
	history, err := json.Marshal(pi.history)
	if err != nil {
		return storage.Document{}, fmt.Errorf("marshal history: %w", err)
	}
	timeouts, err := json.Marshal(pi.timers.Timeouts)
	if err != nil {
		return storage.Document{}, fmt.Errorf("marshal pending timeouts: %w", err)
	}
	views, err := json.Marshal(pi.views)
	if err != nil {
		return storage.Document{}, fmt.Errorf("marshal views: %w", err)
	}

	var parentToken *string
	if pi.parent != nil {
		parentToken = ptr.To(pi.parent.processId + "::" + pi.parentCallActivityName)
	}

	return storage.Document{
		ProcessName:     pi.definition.Name,
		ParentToken:     parentToken,
		ProcessId:       pi.processId,
		Properties:      pi.properties.All(),
		State:           state,
		History:         history,
		PendingTimeouts: timeouts,
		Views:           views,
	}, nil
}

// documentState is the persisted view of the token set: call-activity
// tokens carry the full state of the process they spawned, so a main
// process's document nests its whole descendant tree.
func (pi *ProcessInstance) documentState() runtime.ProcessState {
	out := runtime.ProcessState{Tokens: make([]runtime.Token, len(pi.state.Tokens))}
	copy(out.Tokens, pi.state.Tokens)
	for i, t := range out.Tokens {
		if t.CalledProcessId == "" {
			continue
		}
		child, ok := pi.calledProcesses[t.CalledProcessId]
		if !ok {
			continue
		}
		child.mu.Lock()
		sub := child.documentState()
		child.mu.Unlock()
		out.Tokens[i].Substate = &sub
	}
	return out
}

// restore rehydrates an instance's in-memory fields from a persisted
// document and re-arms any timers that were still pending when the
// document was written. Called once, before the instance is registered
// with the manager; events arriving mid-restore stay deferred until the
// load completes.
func (pi *ProcessInstance) restore(doc storage.Document) error {
	pi.queue.defer_()
	err := pi.restoreFields(doc)
	pi.notifyLoaded(err)
	if err != nil {
		return err
	}
	pi.queue.release()
	return nil
}

func (pi *ProcessInstance) restoreFields(doc storage.Document) error {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if err := json.Unmarshal(doc.State, &pi.state); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal(doc.History, &pi.history); err != nil {
		return fmt.Errorf("unmarshal history: %w", err)
	}
	var timeouts map[string]runtime.PendingTimeout
	if len(doc.PendingTimeouts) > 0 {
		if err := json.Unmarshal(doc.PendingTimeouts, &timeouts); err != nil {
			return fmt.Errorf("unmarshal pending timeouts: %w", err)
		}
	}
	for name, t := range timeouts {
		pi.timers.Set(name, t.At, t.Duration)
	}
	if len(doc.Views) > 0 {
		if err := json.Unmarshal(doc.Views, &pi.views); err != nil {
			return fmt.Errorf("unmarshal views: %w", err)
		}
	}
	for k, v := range doc.Properties {
		pi.properties.Set(k, v)
	}
	if doc.ParentToken != nil {
		if parentId, activityName, ok := strings.Cut(*doc.ParentToken, "::"); ok {
			pi.pendingParentId = parentId
			pi.parentCallActivityName = activityName
		}
	}
	for _, name := range pi.startedEventNames() {
		pi.startedEvents[name] = true
	}

	pi.rearmPendingTimers()
	return nil
}

// startedEventNames derives which start events must be marked already-fired
// from the restored history, so a restarted instance still rejects a
// duplicate trigger of its own start event.
func (pi *ProcessInstance) startedEventNames() []string {
	var names []string
	for _, se := range pi.definition.Definitions.StartEventsOf(pi.definition.BpmnProcessId) {
		for _, entry := range pi.history.Entries {
			if entry.Name == se.GetName() {
				names = append(names, se.GetId())
				break
			}
		}
	}
	return names
}

// emitEndEvent finishes a process: the reached end
// event closes out its own history entry, updates the duration view, and
// either hands control back to a parent call activity or marks the whole
// instance finished.
func (pi *ProcessInstance) emitEndEvent(fo bpmn20.TEndEvent, data interface{}) {
	now := time.Now()
	pi.onFlowObjectEnd(fo, data)
	endView := runtime.ElementView{Name: fo.GetName(), At: now}
	pi.views.EndEvent = &endView
	if pi.views.StartEvent != nil {
		pi.views.Duration = now.Sub(pi.views.StartEvent.At)
	}
	pi.onProcessEnd(pi.parent == nil, data)
}

// onProcessEnd finalizes history, persists the terminal state, and, for a
// called process, notifies the parent on its own queue so the return is
// processed on the parent's single logical thread.
func (pi *ProcessInstance) onProcessEnd(isMainProcess bool, data interface{}) {
	now := time.Now()
	pi.history.FinishedAt = &now
	pi.persist()
	if isMainProcess {
		pi.manager.recordProcessEnded()
		for _, e := range pi.manager.exporters {
			e.InstanceEnded(pi.instanceEvent())
		}
	}
	if !isMainProcess && pi.parent != nil {
		pi.notifyParentOfReturn(data)
	}
}
