package bpmn

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bpmnworks/engine/pkg/bpmn/exporter"
	"github.com/bpmnworks/engine/pkg/bpmn/handler"
	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
	"github.com/bpmnworks/engine/pkg/bpmn/runtime"
	"github.com/bpmnworks/engine/pkg/otel"
	"github.com/bpmnworks/engine/pkg/script"
	"github.com/bpmnworks/engine/pkg/storage"
)

// ProcessManager owns definitions and the live instance cache.
// A process definition is registered once (AddBpmnXML); instances are
// created against it and live in an LRU cache keyed by processId. When the
// cache is full the least recently used instance is evicted; one that still
// holds tokens is re-pinned by the OnEvict handler.
type ProcessManager struct {
	mu sync.RWMutex

	definitions map[string]*runtime.ProcessDefinition // by process definition Name
	handlers    map[string]*handler.Module            // by process definition Name

	cache *lru.Cache[string, *ProcessInstance]

	store     storage.Store
	exporters []exporter.EventExporter
	snowflake *snowflake.Node
	logger    hclog.Logger
	metrics   *otel.EngineMetrics
	scripts   script.JsRuntime

	initMu              sync.Mutex
	initialized         bool
	initialising        bool
	initializationError error
	queuedDefinitions   []*runtime.ProcessDefinition
	waitingCallbacks    []func()
}

// ManagerOption configures optional collaborators at construction.
type ManagerOption func(*ProcessManager)

func WithStore(store storage.Store) ManagerOption {
	return func(m *ProcessManager) { m.store = store }
}

func WithLogger(logger hclog.Logger) ManagerOption {
	return func(m *ProcessManager) { m.logger = logger }
}

// WithMetrics attaches process-lifecycle counters.
func WithMetrics(metrics *otel.EngineMetrics) ManagerOption {
	return func(m *ProcessManager) { m.metrics = metrics }
}

// WithExporter attaches a transaction-log sink. Exporters observe every
// deployment and instance transition and never affect semantics.
func WithExporter(e exporter.EventExporter) ManagerOption {
	return func(m *ProcessManager) { m.exporters = append(m.exporters, e) }
}

// WithScriptRuntime attaches the evaluator used for scriptTask elements
// that carry an inline script body instead of a named handler function.
func WithScriptRuntime(jsRuntime script.JsRuntime) ManagerOption {
	return func(m *ProcessManager) { m.scripts = jsRuntime }
}

const defaultCacheSize = 4096

// NewProcessManager constructs a manager with an empty definition set. The
// manager starts "initialized" (no queued work) until AddBpmnXML enqueues a
// definition that needs loading from the store.
func NewProcessManager(opts ...ManagerOption) *ProcessManager {
	m := &ProcessManager{
		definitions: map[string]*runtime.ProcessDefinition{},
		handlers:    map[string]*handler.Module{},
		logger:      hclog.Default().Named("engine"),
		initialized: true,
	}
	cache, err := lru.NewWithEvict[string, *ProcessInstance](defaultCacheSize, m.onEvict)
	if err != nil {
		panic("bpmn: failed to allocate process instance cache: " + err.Error())
	}
	m.cache = cache
	for _, opt := range opts {
		opt(m)
	}
	m.snowflake = CreateSnowflakeIdGenerator()
	return m
}

// onEvict re-pins an instance the LRU tried to drop if it still holds
// tokens; instances without tokens (ended, or not yet started) stay
// evicted. The re-add runs on its own goroutine because the eviction callback fires
// while the cache's lock is held.
func (m *ProcessManager) onEvict(key string, pi *ProcessInstance) {
	if pi == nil {
		return
	}
	if len(pi.State().Tokens) > 0 {
		go m.cache.Add(key, pi)
	}
}

// AddBpmnXML parses and registers a process definition under name,
// rehydrating any persisted instances for it from the store.
// ConfigError/ParseError are fatal to this call; the definition is not
// registered on failure.
func (m *ProcessManager) AddBpmnXML(name string, resourceName string, data []byte) error {
	var defs bpmn20.TDefinitions
	if err := xml.Unmarshal(data, &defs); err != nil {
		return &ParseError{Errors: []bpmn20.ParseError{{Code: "XML_DECODE", Element: resourceName, Message: err.Error()}}}
	}
	if perrs := defs.BuildIndices(); len(perrs) > 0 {
		return &ParseError{Errors: perrs}
	}

	// A single-process document registers under the caller's name. A
	// collaboration document carries one process per pool; each registers
	// under its own process name so descriptors can address pools
	// individually.
	type registration struct {
		defName       string
		bpmnProcessId string
	}
	var regs []registration
	if len(defs.Processes) <= 1 {
		bpmnProcessId := ""
		if p := defs.Process(); p != nil {
			bpmnProcessId = p.Id
		}
		regs = append(regs, registration{defName: name, bpmnProcessId: bpmnProcessId})
	} else {
		for _, p := range defs.Processes {
			defName := p.Name
			if defName == "" {
				defName = p.Id
			}
			regs = append(regs, registration{defName: defName, bpmnProcessId: p.Id})
		}
	}

	checksum := runtime.Checksum(data)
	var registered []*runtime.ProcessDefinition
	m.mu.Lock()
	for _, reg := range regs {
		def := &runtime.ProcessDefinition{
			BpmnProcessId:    reg.bpmnProcessId,
			Name:             reg.defName,
			Version:          1,
			Definitions:      &defs,
			BpmnData:         data,
			BpmnResourceName: resourceName,
			BpmnChecksum:     checksum,
		}
		if existing, ok := m.definitions[reg.defName]; ok {
			if existing.BpmnChecksum == def.BpmnChecksum {
				continue // identical re-deploy is a no-op
			}
			def.Version = existing.Version + 1
		}
		def.ProcessKey = m.generateKey()
		m.definitions[reg.defName] = def
		registered = append(registered, def)
	}
	m.mu.Unlock()

	for _, def := range registered {
		for _, e := range m.exporters {
			e.ProcessDeployed(exporter.ProcessDeployedEvent{
				ProcessName:  def.Name,
				ProcessKey:   def.ProcessKey,
				Version:      def.Version,
				XmlData:      def.BpmnData,
				ResourceName: def.BpmnResourceName,
				Checksum:     fmt.Sprintf("%x", def.BpmnChecksum),
			})
		}
		if err := m.enqueueLoad(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterHandlers attaches a loaded handler module to a process definition
// name. A definition without one runs with an empty module: token handlers
// pass data through, and only elements that genuinely need user code fail.
func (m *ProcessManager) RegisterHandlers(name string, h *handler.Module) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

func (m *ProcessManager) definitionByName(name string) (*runtime.ProcessDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[name]
	return def, ok
}

func (m *ProcessManager) handlerFor(name string) *handler.Module {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.handlers[name]; ok {
		return h
	}
	return handler.NewModule()
}

func (m *ProcessManager) registerInstance(pi *ProcessInstance) {
	m.cache.Add(pi.processId, pi)
}

// enqueueLoad appends def to the drain queue and kicks the drain loop if
// it isn't already running. CreateProcessWithId (and through it
// CreateProcess and CreateCollaboration) waits in afterInitialization until
// the drain is done; FindBy*, GetInstance and RemoveInstance read the cache
// directly and do not wait.
func (m *ProcessManager) enqueueLoad(def *runtime.ProcessDefinition) error {
	if m.store == nil {
		return nil // no persistence configured: nothing to rehydrate
	}
	m.initMu.Lock()
	m.queuedDefinitions = append(m.queuedDefinitions, def)
	if m.initialising {
		m.initMu.Unlock()
		return nil
	}
	m.initialising = true
	m.initialized = false
	m.initMu.Unlock()

	go m.drain()
	return nil
}

func (m *ProcessManager) drain() {
	for {
		m.initMu.Lock()
		if len(m.queuedDefinitions) == 0 {
			m.initMu.Unlock()
			m.relinkCalledProcesses()
			m.initMu.Lock()
			m.initialising = false
			m.initialized = true
			callbacks := m.waitingCallbacks
			m.waitingCallbacks = nil
			m.initMu.Unlock()
			for _, cb := range callbacks {
				cb()
			}
			return
		}
		def := m.queuedDefinitions[0]
		m.queuedDefinitions = m.queuedDefinitions[1:]
		m.initMu.Unlock()

		if err := m.loadAllFor(def); err != nil {
			m.initMu.Lock()
			if m.initializationError == nil {
				m.initializationError = err
			}
			m.initMu.Unlock()
			m.logger.Error("failed to load persisted instances", "definition", def.Name, "error", err)
		}
	}
}

// InitializationError reports the first error the load drain hit, if any.
// When a definition's load fails, the documents processed before the
// failing one stay registered; the rest of that definition's documents are
// not materialized.
func (m *ProcessManager) InitializationError() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initializationError
}

// afterInitialization runs cb immediately if the manager has no outstanding
// load work, otherwise parks it until the drain loop completes.
func (m *ProcessManager) afterInitialization(cb func()) {
	m.initMu.Lock()
	if m.initialized {
		m.initMu.Unlock()
		cb()
		return
	}
	m.waitingCallbacks = append(m.waitingCallbacks, cb)
	m.initMu.Unlock()
}

// loadAllFor rehydrates every persisted document for def; duplicate ids
// are a fatal ConfigError.
func (m *ProcessManager) loadAllFor(def *runtime.ProcessDefinition) error {
	docs, err := m.store.LoadAll(def.Name)
	if err != nil {
		return &storage.StoreError{Op: "loadAll", Err: err}
	}
	seen := map[string]bool{}
	for _, doc := range docs {
		if seen[doc.ProcessId] {
			return newConfigErrorf("duplicate processId %q found while loading persisted data for %q", doc.ProcessId, def.Name)
		}
		seen[doc.ProcessId] = true

		h := m.handlerFor(def.Name)
		pi := newProcessInstance(m, doc.ProcessId, def, h)
		if err := pi.restore(doc); err != nil {
			return fmt.Errorf("restore instance %s: %w", doc.ProcessId, err)
		}
		m.registerInstance(pi)
	}
	return nil
}

// relinkCalledProcesses resolves every restored instance's pendingParentId
// against the now-fully-loaded cache: a child's persisted document may
// belong to a definition that was still draining when the child itself was
// restored.
func (m *ProcessManager) relinkCalledProcesses() {
	for _, pi := range m.snapshot() {
		if pi.pendingParentId == "" {
			continue
		}
		parent, ok := m.cache.Peek(pi.pendingParentId)
		if !ok {
			m.logger.Warn("orphaned call-activity instance: parent not found", "processId", pi.processId, "parentId", pi.pendingParentId)
			continue
		}
		pi.mu.Lock()
		pi.parent = parent
		pi.mu.Unlock()
		parent.mu.Lock()
		parent.calledProcesses[pi.processId] = pi
		parent.mu.Unlock()
	}
}

// ProcessDescriptor names one pool of a collaborating set.
type ProcessDescriptor struct {
	Id             string
	Name           string
	StartEventName string
}

// CreateProcess creates a single instance against name with a generated
// processId.
func (m *ProcessManager) CreateProcess(name string) (*ProcessInstance, error) {
	return m.CreateProcessWithId(fmt.Sprintf("%d", m.generateKey()), name)
}

// CreateProcessWithId creates a single instance with an explicit id. The
// id-collision check runs both before and after instantiation to catch a
// concurrent create racing this one.
func (m *ProcessManager) CreateProcessWithId(id, name string) (*ProcessInstance, error) {
	var result *ProcessInstance
	var rerr error
	done := make(chan struct{})
	m.afterInitialization(func() {
		defer close(done)
		def, ok := m.definitionByName(name)
		if !ok {
			rerr = newConfigErrorf("no registered process definition named %q", name)
			return
		}
		if _, exists := m.cache.Get(id); exists {
			rerr = newConfigErrorf("processId %q already exists", id)
			return
		}
		h := m.handlerFor(name)
		pi := newProcessInstance(m, id, def, h)
		if _, exists := m.cache.Get(id); exists {
			pi.stop()
			rerr = newConfigErrorf("processId %q already exists", id)
			return
		}
		m.registerInstance(pi)
		result = pi
	})
	<-done
	if rerr == nil {
		m.recordProcessStarted()
		for _, e := range m.exporters {
			e.InstanceCreated(result.instanceEvent())
		}
	}
	return result, rerr
}

func (m *ProcessManager) recordProcessStarted() {
	if m.metrics == nil {
		return
	}
	ctx := context.Background()
	m.metrics.ProcessesStarted.Add(ctx, 1)
	m.metrics.ProcessesRunning.Add(ctx, 1)
}

func (m *ProcessManager) recordProcessEnded() {
	if m.metrics == nil {
		return
	}
	ctx := context.Background()
	m.metrics.ProcessesEnded.Add(ctx, 1)
	m.metrics.ProcessesRunning.Add(ctx, -1)
}

// CreateCollaboration instantiates each descriptor sequentially, wires
// participants by name so peers can see each other, and triggers the start
// event on any descriptor that names one.
func (m *ProcessManager) CreateCollaboration(descriptors []ProcessDescriptor) ([]*ProcessInstance, error) {
	instances := make([]*ProcessInstance, 0, len(descriptors))
	for _, d := range descriptors {
		id := d.Id
		if id == "" {
			id = fmt.Sprintf("%d", m.generateKey())
		}
		pi, err := m.CreateProcessWithId(id, d.Name)
		if err != nil {
			for _, created := range instances {
				created.stop()
				m.cache.Remove(created.processId)
			}
			return nil, err
		}
		instances = append(instances, pi)
	}
	for i, pi := range instances {
		for j, peer := range instances {
			if i == j {
				continue
			}
			pi.addParticipant(peer.definition.Name, peer)
		}
	}
	for i, d := range descriptors {
		if d.StartEventName == "" {
			continue
		}
		if err := instances[i].TriggerEvent(d.StartEventName, nil); err != nil {
			return instances, err
		}
	}
	return instances, nil
}

// FindByState returns instances with >=1 token at the named flow object.
func (m *ProcessManager) FindByState(name string) []*ProcessInstance {
	var out []*ProcessInstance
	for _, pi := range m.snapshot() {
		if pi.State().CountAt(name) > 0 {
			out = append(out, pi)
		}
	}
	return out
}

// FindByName returns instances whose definition has the given name.
func (m *ProcessManager) FindByName(name string, caseSensitive bool) []*ProcessInstance {
	var out []*ProcessInstance
	for _, pi := range m.snapshot() {
		defName := pi.Definition().Name
		if caseSensitive {
			if defName == name {
				out = append(out, pi)
			}
		} else if strings.EqualFold(defName, name) {
			out = append(out, pi)
		}
	}
	return out
}

// FindByProperty ANDs equality across every (key, value) in query, with
// dot-path descent.
func (m *ProcessManager) FindByProperty(query map[string]interface{}) []*ProcessInstance {
	var out []*ProcessInstance
	for _, pi := range m.snapshot() {
		if runtime.MatchesAll(pi.GetProperties(), query) {
			out = append(out, pi)
		}
	}
	return out
}

func (m *ProcessManager) GetInstance(processId string) (*ProcessInstance, bool) {
	return m.cache.Get(processId)
}

// RemoveInstance drops processId from the cache. An ended instance stays
// cached until removed explicitly or evicted by the LRU once the cache is
// full; instances without tokens are not re-pinned on eviction.
func (m *ProcessManager) RemoveInstance(processId string) {
	m.cache.Remove(processId)
}

func (m *ProcessManager) snapshot() []*ProcessInstance {
	keys := m.cache.Keys()
	out := make([]*ProcessInstance, 0, len(keys))
	for _, k := range keys {
		if pi, ok := m.cache.Peek(k); ok {
			out = append(out, pi)
		}
	}
	return out
}

// Close stops every cached instance's event loop and closes the
// persistence store.
func (m *ProcessManager) Close(ctx context.Context) error {
	for _, pi := range m.snapshot() {
		pi.stop()
	}
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

