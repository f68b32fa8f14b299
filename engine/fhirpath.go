package engine

import (
	"encoding/json"
	"sync"

	"github.com/gofhir/fhirpath"
)

// evaluator evaluates FHIRPath invariants with a compiled-expression
// cache.
type evaluator struct {
	mu    sync.RWMutex
	cache map[string]*fhirpath.Expression
}

func newEvaluator() *evaluator {
	return &evaluator{
		cache: make(map[string]*fhirpath.Expression),
	}
}

func (e *evaluator) compiled(expr string) (*fhirpath.Expression, error) {
	e.mu.RLock()
	compiled, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := fhirpath.Compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = compiled
	e.mu.Unlock()

	return compiled, nil
}

// passes evaluates an invariant against a resource. An empty result
// collection means the invariant is not applicable and passes; a result
// that cannot convert to boolean is treated as truthy.
func (e *evaluator) passes(expr string, resource json.RawMessage) (bool, error) {
	compiled, err := e.compiled(expr)
	if err != nil {
		return false, err
	}

	result, err := compiled.Evaluate(resource)
	if err != nil {
		return false, err
	}

	if result.Empty() {
		return true, nil
	}
	b, err := result.ToBoolean()
	if err != nil {
		return true, nil
	}
	return b, nil
}
