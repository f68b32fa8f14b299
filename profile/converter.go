package profile

import "github.com/gofhir/fhir/r4"

// R4Converter converts typed R4 StructureDefinitions to the internal model.
type R4Converter struct{}

// NewR4Converter creates a new R4 converter.
func NewR4Converter() *R4Converter {
	return &R4Converter{}
}

// Convert converts an r4.StructureDefinition to the internal model.
// Returns nil for nil input.
func (c *R4Converter) Convert(sd *r4.StructureDefinition) *StructureDefinition {
	if sd == nil {
		return nil
	}

	result := &StructureDefinition{
		URL:            derefString(sd.Url),
		Name:           derefString(sd.Name),
		Type:           derefString(sd.Type),
		Kind:           c.convertKind(sd.Kind),
		Abstract:       derefBool(sd.Abstract),
		BaseDefinition: derefString(sd.BaseDefinition),
		FHIRVersion:    c.convertFHIRVersion(sd.FhirVersion),
	}

	if sd.Snapshot != nil {
		result.Snapshot = c.convertElements(sd.Snapshot.Element)
	}
	if sd.Differential != nil {
		result.Differential = c.convertElements(sd.Differential.Element)
	}

	return result
}

func (c *R4Converter) convertElements(elements []r4.ElementDefinition) []ElementDefinition {
	if len(elements) == 0 {
		return nil
	}

	result := make([]ElementDefinition, 0, len(elements))
	for i := range elements {
		result = append(result, c.convertElement(&elements[i]))
	}
	return result
}

func (c *R4Converter) convertElement(ed *r4.ElementDefinition) ElementDefinition {
	return ElementDefinition{
		ID:          derefString(ed.Id),
		Path:        derefString(ed.Path),
		SliceName:   derefString(ed.SliceName),
		Min:         c.convertMin(ed.Min),
		Max:         derefString(ed.Max),
		Types:       c.convertTypes(ed.Type),
		Binding:     c.convertBinding(ed.Binding),
		Constraints: c.convertConstraints(ed.Constraint),
		MustSupport: derefBool(ed.MustSupport),
	}
}

func (c *R4Converter) convertTypes(types []r4.ElementDefinitionType) []TypeRef {
	if len(types) == 0 {
		return nil
	}

	result := make([]TypeRef, 0, len(types))
	for i := range types {
		t := &types[i]
		result = append(result, TypeRef{
			Code:          derefString(t.Code),
			Profile:       t.Profile,
			TargetProfile: t.TargetProfile,
		})
	}
	return result
}

func (c *R4Converter) convertBinding(binding *r4.ElementDefinitionBinding) *Binding {
	if binding == nil {
		return nil
	}

	return &Binding{
		Strength:    c.convertBindingStrength(binding.Strength),
		ValueSet:    derefString(binding.ValueSet),
		Description: derefString(binding.Description),
	}
}

func (c *R4Converter) convertConstraints(constraints []r4.ElementDefinitionConstraint) []Constraint {
	if len(constraints) == 0 {
		return nil
	}

	result := make([]Constraint, 0, len(constraints))
	for i := range constraints {
		con := &constraints[i]
		result = append(result, Constraint{
			Key:        derefString(con.Key),
			Severity:   c.convertConstraintSeverity(con.Severity),
			Human:      derefString(con.Human),
			Expression: derefString(con.Expression),
		})
	}
	return result
}

// Type conversion helpers

func (c *R4Converter) convertKind(kind *r4.StructureDefinitionKind) string {
	if kind == nil {
		return ""
	}
	return string(*kind)
}

func (c *R4Converter) convertFHIRVersion(version *r4.FHIRVersion) string {
	if version == nil {
		return ""
	}
	return string(*version)
}

func (c *R4Converter) convertBindingStrength(strength *r4.BindingStrength) string {
	if strength == nil {
		return ""
	}
	return string(*strength)
}

func (c *R4Converter) convertConstraintSeverity(severity *r4.ConstraintSeverity) string {
	if severity == nil {
		return ""
	}
	return string(*severity)
}

func (c *R4Converter) convertMin(minVal *uint32) int {
	if minVal == nil {
		return 0
	}
	return int(*minVal)
}

// Generic helpers

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
