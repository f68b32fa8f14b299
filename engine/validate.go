package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	igvalidator "github.com/gofhir/igvalidator"
	"github.com/gofhir/igvalidator/format"
	"github.com/gofhir/igvalidator/profile"
)

var (
	// ErrNotPrepared is returned when Validate is called before Prepare.
	ErrNotPrepared = errors.New("engine is not prepared")

	// ErrUnknownProfile is returned when a requested profile URL has no
	// registered definition.
	ErrUnknownProfile = errors.New("unknown profile")

	// ErrUnsupportedFormat is returned for resource formats the engine
	// cannot validate.
	ErrUnsupportedFormat = errors.New("unsupported resource format")
)

// Validate validates a single resource against the base specification
// and the given profiles. An empty profile list validates against the
// resource type's base definition only. The returned error reports that
// validation could not be performed; findings about the resource itself
// are issues on the outcome.
func (e *Engine) Validate(ctx context.Context, resource []byte, f format.Format, profileURLs []string) (*igvalidator.Outcome, error) {
	if !e.isPrepared() {
		return nil, ErrNotPrepared
	}
	if f != format.JSON {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	var data map[string]any
	if err := json.Unmarshal(resource, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON resource: %w", err)
	}

	resourceType, _ := data["resourceType"].(string)
	if resourceType == "" {
		return nil, errors.New("resource has no resourceType")
	}

	outcome := igvalidator.NewOutcome()
	outcome.ResourceType = resourceType
	outcome.ProfileURLs = profileURLs

	defs, err := e.collectDefinitions(resourceType, profileURLs, outcome)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return outcome, nil
	}

	for _, sd := range defs {
		e.checkStructure(data, sd, outcome)
		e.checkCardinality(data, sd, outcome)
		e.checkConstraints(resource, sd, outcome)
		if err := e.checkBindings(ctx, data, sd, outcome); err != nil {
			return nil, err
		}
	}

	return outcome, nil
}

// collectDefinitions gathers the base type definition plus the requested
// profiles, deduplicated by URL. An unknown profile URL is an error; an
// unknown resource type is a fatal finding on the outcome.
func (e *Engine) collectDefinitions(resourceType string, profileURLs []string, outcome *igvalidator.Outcome) ([]*profile.StructureDefinition, error) {
	var defs []*profile.StructureDefinition
	seen := make(map[string]bool)

	base, ok := e.profiles.GetByType(resourceType)
	if !ok {
		outcome.AddIssue(igvalidator.Issue{
			Severity:    igvalidator.SeverityFatal,
			Code:        igvalidator.IssueTypeNotFound,
			Diagnostics: fmt.Sprintf("unknown resource type %q", resourceType),
			Expression:  []string{resourceType},
		})
		return nil, nil
	}
	defs = append(defs, base)
	seen[base.URL] = true

	for _, url := range profileURLs {
		sd, ok := e.profiles.Get(url)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, url)
		}
		if seen[sd.URL] {
			continue
		}
		seen[sd.URL] = true
		defs = append(defs, sd)
	}

	return defs, nil
}

// checkStructure walks the resource and reports elements the definition
// does not know.
func (e *Engine) checkStructure(data map[string]any, sd *profile.StructureDefinition, outcome *igvalidator.Outcome) {
	rootType := sd.Type
	if rootType == "" {
		return
	}
	e.walkElements(data, rootType, rootType, e.index(sd), outcome)
}

func (e *Engine) walkElements(data map[string]any, sdPath, fhirPath string, idx *elementIndex, outcome *igvalidator.Outcome) {
	for key, value := range data {
		if key == "resourceType" {
			continue
		}

		// Shadow elements carry id and extensions for primitives.
		if strings.HasPrefix(key, "_") {
			baseKey := key[1:]
			if idx.resolveElement(sdPath+"."+baseKey, baseKey) == nil {
				outcome.AddError(igvalidator.IssueTypeStructure,
					fmt.Sprintf("unknown element %q", key), fhirPath+"."+key)
			}
			continue
		}

		if key == "extension" || key == "modifierExtension" {
			e.checkExtensions(value, fhirPath+"."+key, outcome)
			continue
		}

		resolved := idx.resolveElement(sdPath+"."+key, key)
		if resolved == nil {
			outcome.AddError(igvalidator.IssueTypeStructure,
				fmt.Sprintf("unknown element %q", key), fhirPath+"."+key)
			continue
		}

		e.walkChildren(value, resolved, sdPath+"."+key, fhirPath+"."+key, idx, outcome)
	}
}

func (e *Engine) walkChildren(value any, resolved *resolvedElement, sdPath, fhirPath string, idx *elementIndex, outcome *igvalidator.Outcome) {
	switch val := value.(type) {
	case map[string]any:
		e.walkComplexElement(val, resolved, sdPath, fhirPath, idx, outcome)
	case []any:
		for i, item := range val {
			e.walkChildren(item, resolved, sdPath, fmt.Sprintf("%s[%d]", fhirPath, i), idx, outcome)
		}
	default:
		// Primitive value; nothing structural to check.
	}
}

func (e *Engine) walkComplexElement(data map[string]any, resolved *resolvedElement, sdPath, fhirPath string, idx *elementIndex, outcome *igvalidator.Outcome) {
	typeName := resolved.resolvedType
	if typeName == "" && resolved.elemDef != nil && len(resolved.elemDef.Types) == 1 {
		typeName = resolved.elemDef.Types[0].Code
	}
	if typeName == "" {
		return
	}

	// Backbone elements are defined inline in the current definition.
	if typeName == "BackboneElement" || typeName == "Element" {
		e.walkElements(data, sdPath, fhirPath, idx, outcome)
		return
	}

	// Inline resources (contained, Bundle entries) validate against
	// their own type definition.
	if typeName == "Resource" || typeName == "DomainResource" {
		e.walkInlineResource(data, fhirPath, outcome)
		return
	}

	typeSD, ok := e.profiles.GetByType(typeName)
	if !ok || typeSD.Kind == "primitive-type" {
		return
	}

	e.walkElements(data, typeName, fhirPath, e.index(typeSD), outcome)
}

func (e *Engine) walkInlineResource(data map[string]any, fhirPath string, outcome *igvalidator.Outcome) {
	resourceType, _ := data["resourceType"].(string)
	if resourceType == "" {
		outcome.AddError(igvalidator.IssueTypeStructure, "inline resource has no resourceType", fhirPath)
		return
	}

	sd, ok := e.profiles.GetByType(resourceType)
	if !ok {
		outcome.AddError(igvalidator.IssueTypeNotFound,
			fmt.Sprintf("unknown resource type %q", resourceType), fhirPath)
		return
	}

	e.walkElements(data, resourceType, fhirPath, e.index(sd), outcome)
}

// checkExtensions verifies that extension URLs refer to known
// definitions. Unknown URLs are warnings when any-extension mode is on,
// errors otherwise.
func (e *Engine) checkExtensions(value any, fhirPath string, outcome *igvalidator.Outcome) {
	items, ok := value.([]any)
	if !ok {
		outcome.AddError(igvalidator.IssueTypeStructure, "extension must be an array", fhirPath)
		return
	}

	e.mu.Lock()
	anyAllowed := e.anyExtensions
	e.mu.Unlock()

	for i, item := range items {
		ext, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := ext["url"].(string)
		if url == "" {
			outcome.AddError(igvalidator.IssueTypeExtension, "extension has no url",
				fmt.Sprintf("%s[%d]", fhirPath, i))
			continue
		}
		// Simple extensions carry local urls; only canonical URLs are
		// checked against the registry.
		if !strings.Contains(url, "://") {
			continue
		}
		if _, known := e.profiles.Get(url); known {
			continue
		}

		diag := fmt.Sprintf("unknown extension %s", url)
		path := fmt.Sprintf("%s[%d]", fhirPath, i)
		if anyAllowed {
			outcome.AddWarning(igvalidator.IssueTypeExtension, diag, path)
		} else {
			outcome.AddError(igvalidator.IssueTypeExtension, diag, path)
		}
	}
}

// checkCardinality verifies minimum and maximum cardinality of the
// definition's top-level elements.
func (e *Engine) checkCardinality(data map[string]any, sd *profile.StructureDefinition, outcome *igvalidator.Outcome) {
	elements := sd.Elements()
	for i := range elements {
		elem := &elements[i]
		name, ok := topLevelName(elem.Path, sd.Type)
		if !ok {
			continue
		}

		present, value := elementValue(data, name)

		if elem.Min > 0 && !present {
			outcome.AddError(igvalidator.IssueTypeRequired,
				fmt.Sprintf("required element %q is missing", name),
				sd.Type+"."+strings.TrimSuffix(name, "[x]"))
			continue
		}
		if !present {
			continue
		}

		if elem.Max == "0" {
			outcome.AddError(igvalidator.IssueTypeStructure,
				fmt.Sprintf("element %q is prohibited", name),
				sd.Type+"."+name)
			continue
		}
		if _, isArray := value.([]any); isArray && !elem.AllowsMultiple() {
			outcome.AddError(igvalidator.IssueTypeStructure,
				fmt.Sprintf("element %q must not repeat", name),
				sd.Type+"."+name)
		}
	}
}

// topLevelName extracts the element name of a depth-one path such as
// "Observation.status".
func topLevelName(path, rootType string) (string, bool) {
	rest, found := strings.CutPrefix(path, rootType+".")
	if !found || rest == "" || strings.Contains(rest, ".") {
		return "", false
	}
	return rest, true
}

// elementValue looks up a top-level element in the resource, resolving
// choice elements by prefix.
func elementValue(data map[string]any, name string) (bool, any) {
	if base, isChoice := strings.CutSuffix(name, "[x]"); isChoice {
		for key, value := range data {
			if strings.HasPrefix(key, base) && len(key) > len(base) {
				return true, value
			}
		}
		return false, nil
	}

	value, ok := data[name]
	return ok, value
}

// checkConstraints evaluates the invariants attached to the
// definition's root element against the whole resource.
func (e *Engine) checkConstraints(resource json.RawMessage, sd *profile.StructureDefinition, outcome *igvalidator.Outcome) {
	elements := sd.Elements()
	for i := range elements {
		elem := &elements[i]
		if elem.Path != sd.Type {
			continue
		}

		for _, c := range elem.Constraints {
			if c.Expression == "" {
				continue
			}

			passed, err := e.evaluator.passes(c.Expression, resource)
			if err != nil {
				outcome.AddWarning(igvalidator.IssueTypeInvariant,
					fmt.Sprintf("could not evaluate constraint %s: %v", c.Key, err),
					sd.Type)
				continue
			}
			if passed {
				continue
			}

			diag := fmt.Sprintf("constraint %s failed: %s", c.Key, c.Human)
			if c.Severity == "error" {
				outcome.AddError(igvalidator.IssueTypeInvariant, diag, sd.Type)
			} else {
				outcome.AddWarning(igvalidator.IssueTypeInvariant, diag, sd.Type)
			}
		}
	}
}

// checkBindings validates coded top-level elements with a required
// binding against the terminology server. A terminology call failure
// aborts validation.
func (e *Engine) checkBindings(ctx context.Context, data map[string]any, sd *profile.StructureDefinition, outcome *igvalidator.Outcome) error {
	if e.tx == nil {
		return nil
	}

	elements := sd.Elements()
	for i := range elements {
		elem := &elements[i]
		if !elem.Binding.IsRequired() || elem.Binding.ValueSet == "" {
			continue
		}
		if len(elem.Types) != 1 || elem.Types[0].Code != "code" {
			continue
		}

		name, ok := topLevelName(elem.Path, sd.Type)
		if !ok {
			continue
		}
		code, ok := data[name].(string)
		if !ok || code == "" {
			continue
		}

		result, found, err := e.tx.ValidateCodeInValueSet(ctx, "", code, elem.Binding.ValueSet)
		if err != nil {
			return fmt.Errorf("terminology validation of %s failed: %w", elem.Path, err)
		}
		if !found {
			outcome.AddWarning(igvalidator.IssueTypeCodeInvalid,
				fmt.Sprintf("value set %s is not known to the terminology server", elem.Binding.ValueSet),
				elem.Path)
			continue
		}
		if !result.Valid {
			diag := fmt.Sprintf("code %q is not valid in value set %s", code, elem.Binding.ValueSet)
			if result.Message != "" {
				diag = fmt.Sprintf("%s: %s", diag, result.Message)
			}
			outcome.AddError(igvalidator.IssueTypeCodeInvalid, diag, elem.Path)
		}
	}

	return nil
}
