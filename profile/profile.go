// Package profile holds the structure definition model used by the
// validation engine and a URL-keyed registry of loaded definitions.
package profile

// StructureDefinition is the internal representation of a FHIR
// StructureDefinition, reduced to the fields validation needs.
// Definitions are immutable once registered.
type StructureDefinition struct {
	// URL is the canonical URL identifying this definition.
	URL string `json:"url"`

	// Name is the computer-friendly name.
	Name string `json:"name"`

	// Type is the FHIR type this definition constrains, e.g. "Patient".
	Type string `json:"type"`

	// Kind is one of primitive-type, complex-type, resource, logical.
	Kind string `json:"kind"`

	// Abstract is true for abstract base definitions.
	Abstract bool `json:"abstract,omitempty"`

	// BaseDefinition is the canonical URL of the definition this derives from.
	BaseDefinition string `json:"baseDefinition,omitempty"`

	// FHIRVersion is the publication version the definition targets.
	FHIRVersion string `json:"fhirVersion,omitempty"`

	// Snapshot contains the fully resolved element tree.
	Snapshot []ElementDefinition `json:"snapshot,omitempty"`

	// Differential contains only the elements changed from the base.
	Differential []ElementDefinition `json:"differential,omitempty"`
}

// Elements returns the snapshot elements, falling back to the
// differential when no snapshot is present.
func (sd *StructureDefinition) Elements() []ElementDefinition {
	if len(sd.Snapshot) > 0 {
		return sd.Snapshot
	}
	return sd.Differential
}

// ElementDefinition describes a single element within a structure.
type ElementDefinition struct {
	ID        string `json:"id,omitempty"`
	Path      string `json:"path"`
	SliceName string `json:"sliceName,omitempty"`

	// Min is the minimum cardinality.
	Min int `json:"min"`

	// Max is the maximum cardinality, a number or "*".
	Max string `json:"max,omitempty"`

	// Types lists the allowed types for this element.
	Types []TypeRef `json:"types,omitempty"`

	// Binding ties coded elements to a value set.
	Binding *Binding `json:"binding,omitempty"`

	// Constraints are the invariants attached to this element.
	Constraints []Constraint `json:"constraints,omitempty"`

	// MustSupport marks elements implementations must support.
	MustSupport bool `json:"mustSupport,omitempty"`
}

// AllowsMultiple reports whether the element may repeat.
func (ed *ElementDefinition) AllowsMultiple() bool {
	return ed.Max == "*" || (ed.Max != "" && ed.Max != "0" && ed.Max != "1")
}

// TypeRef is a reference to an allowed element type.
type TypeRef struct {
	Code          string   `json:"code"`
	Profile       []string `json:"profile,omitempty"`
	TargetProfile []string `json:"targetProfile,omitempty"`
}

// Binding ties an element to a value set with a given strength.
type Binding struct {
	// Strength is one of required, extensible, preferred, example.
	Strength    string `json:"strength"`
	ValueSet    string `json:"valueSet,omitempty"`
	Description string `json:"description,omitempty"`
}

// IsRequired reports whether codes must come from the bound value set.
func (b *Binding) IsRequired() bool {
	return b != nil && b.Strength == "required"
}

// Constraint is an invariant expressed in FHIRPath.
type Constraint struct {
	Key        string `json:"key"`
	Severity   string `json:"severity"`
	Human      string `json:"human,omitempty"`
	Expression string `json:"expression,omitempty"`
}
