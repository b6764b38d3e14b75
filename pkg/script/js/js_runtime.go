package js

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/dop251/goja"

	"github.com/bpmnworks/engine/pkg/script"
)

type JsRunnerFactory struct {
}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

type JsRuntime struct {
	pool *script.RunnerPool
}

func (r *JsRuntime) ScriptRuntime() {}

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) *JsRuntime {
	return &JsRuntime{
		pool: script.NewRunnerPool(ctx, JsRunnerFactory{}, maxVmPoolSize, minVmPoolSize),
	}
}

// RunScript evaluates a scriptTask body against data, bound into the VM as
// the "data" global, and returns whatever the script assigned to "result"
// (or the bare expression value, if the body has none).
func (r *JsRuntime) RunScript(scriptBody string, data interface{}) (any, error) {
	runner := r.pool.GetRunnerFromPool()
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).runScript(scriptBody, data)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	r := JsRunner{vm: goja.New()}
	return &r
}

// TODO: we need to add a method to Goja to compile this without the global context
func (r *JsRunner) runScript(scriptBody string, data interface{}) (interface{}, error) {
	if err := r.vm.Set("data", data); err != nil {
		return nil, fmt.Errorf("bind data for script: %w", err)
	}
	r.vm.Set("result", goja.Undefined())
	resp, err := r.vm.RunString(scriptBody)
	if err != nil {
		return resp, fmt.Errorf("error running script \"%s\" : %v", scriptBody, err)
	}
	if result := r.vm.Get("result"); result != nil && !goja.IsUndefined(result) {
		return result.Export(), nil
	}
	if resp != nil {
		return resp.Export(), nil
	}
	return nil, nil
}
