package engine

import (
	"strings"

	"github.com/gofhir/igvalidator/profile"
)

// elementIndex holds pre-processed element lookups for a structure
// definition.
type elementIndex struct {
	// byPath maps exact paths to element definitions.
	byPath map[string]*profile.ElementDefinition
	// choiceTypes maps choice element base paths (without [x]) to their
	// definitions, e.g. "Patient.deceased" for "Patient.deceased[x]".
	choiceTypes map[string]*profile.ElementDefinition
}

func buildElementIndex(sd *profile.StructureDefinition) *elementIndex {
	idx := &elementIndex{
		byPath:      make(map[string]*profile.ElementDefinition),
		choiceTypes: make(map[string]*profile.ElementDefinition),
	}

	elements := sd.Elements()
	for i := range elements {
		elem := &elements[i]
		idx.byPath[elem.Path] = elem

		if strings.HasSuffix(elem.Path, "[x]") {
			basePath := strings.TrimSuffix(elem.Path, "[x]")
			idx.choiceTypes[basePath] = elem
		}
	}

	return idx
}

// index returns a cached element index for a definition, building it on
// first use. The cache is keyed by definition identity, not canonical
// URL: a validate call that fetched a definition from the registry
// always resolves against that definition's own index, even while a
// replacement for the same URL is being registered.
func (e *Engine) index(sd *profile.StructureDefinition) *elementIndex {
	if cached, ok := e.idxCache.Load(sd); ok {
		return cached.(*elementIndex)
	}
	idx := buildElementIndex(sd)
	e.idxCache.Store(sd, idx)
	return idx
}

// resolvedElement is an element definition plus the concrete type
// resolved for a choice element.
type resolvedElement struct {
	elemDef      *profile.ElementDefinition
	resolvedType string
}

// resolveElement finds the definition for an element name under sdPath,
// handling choice elements such as deceasedBoolean.
func (idx *elementIndex) resolveElement(sdPath, elementName string) *resolvedElement {
	if elemDef := idx.byPath[sdPath]; elemDef != nil {
		typeName := ""
		if len(elemDef.Types) == 1 {
			typeName = elemDef.Types[0].Code
		}
		return &resolvedElement{elemDef: elemDef, resolvedType: typeName}
	}

	for choiceBasePath, choiceElemDef := range idx.choiceTypes {
		choiceBaseName := choiceBasePath[strings.LastIndex(choiceBasePath, ".")+1:]
		if !strings.HasPrefix(elementName, choiceBaseName) || len(elementName) <= len(choiceBaseName) {
			continue
		}

		typeSuffix := elementName[len(choiceBaseName):]
		for _, t := range choiceElemDef.Types {
			if strings.EqualFold(t.Code, typeSuffix) {
				return &resolvedElement{elemDef: choiceElemDef, resolvedType: t.Code}
			}
		}
	}

	return nil
}
