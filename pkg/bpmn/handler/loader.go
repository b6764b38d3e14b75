package handler

import (
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
)

// LoadFromSource runs a JS source string in a fresh goja VM (grounded on
// pkg/script/js's JsRunner pattern) and walks every global function it
// defines, sorting each into Module's token/timeout/predicate buckets by
// name shape: "$getTimeout" suffix -> TimeoutFunc, a "$" separator ->
// PredicateFunc keyed by gateway+outName, everything else -> TokenFunc.
//
// A TokenFunc's JS counterpart is called as fn(data, done) where done is a
// goja-callable Go closure; the handler must invoke it exactly once.
func LoadFromSource(source string) (*Module, error) {
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("load handler module: %w", err)
	}

	m := NewModule()
	global := vm.GlobalObject()
	for _, key := range global.Keys() {
		val := global.Get(key)
		fn, ok := goja.AssertFunction(val)
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(key, "$getTimeout"):
			name := strings.TrimSuffix(key, "$getTimeout")
			m.RegisterTimeout(name, timeoutFuncOf(vm, fn))
		case strings.Contains(key, "$"):
			parts := strings.SplitN(key, "$", 2)
			m.RegisterPredicate(parts[0], parts[1], predicateFuncOf(vm, fn))
		default:
			m.RegisterToken(key, tokenFuncOf(vm, fn))
		}
	}
	return m, nil
}

func LoadFromFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read handler module %s: %w", path, err)
	}
	return LoadFromSource(string(data))
}

// LoadFromValue wraps a Go-native map of handler callables, the "in-memory
// value" loading shape, which needs no goja VM at all.
func LoadFromValue(tokenFuncs map[string]TokenFunc, timeoutFuncs map[string]TimeoutFunc, predicateFuncs map[string]PredicateFunc) *Module {
	m := NewModule()
	for name, fn := range tokenFuncs {
		m.RegisterToken(name, fn)
	}
	for name, fn := range timeoutFuncs {
		m.RegisterTimeout(name, fn)
	}
	for key, fn := range predicateFuncs {
		parts := strings.SplitN(key, "$", 2)
		if len(parts) != 2 {
			continue
		}
		m.RegisterPredicate(parts[0], parts[1], fn)
	}
	return m
}

func tokenFuncOf(vm *goja.Runtime, fn goja.Callable) TokenFunc {
	return func(data interface{}, done DoneFunc) {
		doneCallback := vm.ToValue(func(result goja.Value, errVal goja.Value) {
			if !goja.IsUndefined(errVal) && errVal != nil {
				done(nil, fmt.Errorf("%v", errVal))
				return
			}
			if result == nil || goja.IsUndefined(result) {
				done(nil, nil)
				return
			}
			done(result.Export(), nil)
		})
		if _, err := fn(goja.Undefined(), vm.ToValue(data), doneCallback); err != nil {
			done(nil, err)
		}
	}
}

func timeoutFuncOf(vm *goja.Runtime, fn goja.Callable) TimeoutFunc {
	return func() (float64, error) {
		result, err := fn(goja.Undefined())
		if err != nil {
			return 0, err
		}
		ms := result.ToFloat()
		return ms, nil
	}
}

func predicateFuncOf(vm *goja.Runtime, fn goja.Callable) PredicateFunc {
	return func(data interface{}) bool {
		result, err := fn(goja.Undefined(), vm.ToValue(data))
		if err != nil {
			return false
		}
		return result.ToBoolean()
	}
}
