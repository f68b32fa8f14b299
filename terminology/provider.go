// Package terminology connects the validator to a FHIR terminology
// server and validates codes against code systems and value sets.
package terminology

import "context"

// ValidateCodeResult holds the result of a code validation call.
type ValidateCodeResult struct {
	Valid   bool
	Message string
	Display string
}

// CodeValidator validates codes against code systems.
type CodeValidator interface {
	ValidateCode(ctx context.Context, system, code string) (*ValidateCodeResult, error)
}

// ValueSetValidator validates codes against value sets. The found
// return is false when the server does not know the value set.
type ValueSetValidator interface {
	ValidateCodeInValueSet(ctx context.Context, system, code, valueSetURL string) (result *ValidateCodeResult, found bool, err error)
}

// Provider combines the terminology operations the validation engine
// uses.
type Provider interface {
	CodeValidator
	ValueSetValidator
}
