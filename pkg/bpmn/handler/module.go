// Package handler resolves canonicalized BPMN flow-object names to
// user-supplied callables. A Module is the loaded
// result of the handler module loader (loader.go); this package holds both
// the loader and the canonicalized lookup tables it fills.
package handler

import (
	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
)

// DoneFunc is invoked by a handler exactly once to resolve its call.
type DoneFunc func(result interface{}, err error)

// TokenFunc backs N, NDone, onBeginHandler, onEndHandler and the
// defaultEventHandler/defaultErrorHandler hooks: all of them are "do some
// work, then call done" shaped.
type TokenFunc func(data interface{}, done DoneFunc)

// TimeoutFunc backs N$getTimeout; it must return a finite number of
// milliseconds or an error.
type TimeoutFunc func() (float64, error)

// PredicateFunc backs N$<outName>, the exclusive-gateway branch predicate.
type PredicateFunc func(data interface{}) bool

// Module is the loaded, canonicalized handler dictionary for one process
// definition. It is built by the LoadFrom* functions (loader.go) or by
// Register* calls, and is not mutated after load, matching the "immutable after parsing" texture of the definition
// graph it sits next to.
type Module struct {
	tokenFuncs     map[string]TokenFunc
	timeoutFuncs   map[string]TimeoutFunc
	predicateFuncs map[string]PredicateFunc
}

func NewModule() *Module {
	return &Module{
		tokenFuncs:     map[string]TokenFunc{},
		timeoutFuncs:   map[string]TimeoutFunc{},
		predicateFuncs: map[string]PredicateFunc{},
	}
}

func (m *Module) RegisterToken(name string, fn TokenFunc) {
	m.tokenFuncs[bpmn20.CanonicalHandlerName(name)] = fn
}

func (m *Module) RegisterTimeout(name string, fn TimeoutFunc) {
	m.timeoutFuncs[bpmn20.CanonicalHandlerName(name)] = fn
}

func (m *Module) RegisterPredicate(gatewayName, outName string, fn PredicateFunc) {
	key := bpmn20.CanonicalHandlerName(gatewayName) + "$" + bpmn20.CanonicalHandlerName(outName)
	m.predicateFuncs[key] = fn
}

// Token resolves N or N + "Done" handlers; doneSuffix should already be
// folded into name by the caller (onActivityEnd in pkg/bpmn/emit.go does
// this).
func (m *Module) Token(name string) (TokenFunc, bool) {
	fn, ok := m.tokenFuncs[bpmn20.CanonicalHandlerName(name)]
	return fn, ok
}

func (m *Module) Timeout(name string) (TimeoutFunc, bool) {
	fn, ok := m.timeoutFuncs[bpmn20.CanonicalHandlerName(name)]
	return fn, ok
}

func (m *Module) Predicate(gatewayName, outName string) (PredicateFunc, bool) {
	key := bpmn20.CanonicalHandlerName(gatewayName) + "$" + bpmn20.CanonicalHandlerName(outName)
	fn, ok := m.predicateFuncs[key]
	return fn, ok
}

// Lifecycle hook names.
const (
	HookDefaultEventHandler = "defaultEventHandler"
	HookDefaultErrorHandler = "defaultErrorHandler"
	HookOnBeginHandler      = "onBeginHandler"
	HookOnEndHandler        = "onEndHandler"
	HookDoneLoadingHandler  = "doneLoadingHandler"
	HookDoneSavingHandler   = "doneSavingHandler"
)

