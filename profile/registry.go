package profile

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/igvalidator/pkg/logger"
)

// baseCanonicalPrefix is the canonical URL prefix of core definitions.
const baseCanonicalPrefix = "http://hl7.org/fhir/StructureDefinition/"

// Registry is a mutable, URL-keyed collection of structure definitions.
// Registration is last-write-wins: registering a definition whose URL is
// already present replaces the previous entry and logs a warning.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byURL     map[string]*StructureDefinition
	byType    map[string]*StructureDefinition
	converter *R4Converter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byURL:     make(map[string]*StructureDefinition),
		byType:    make(map[string]*StructureDefinition),
		converter: NewR4Converter(),
	}
}

// Put registers a structure definition, replacing any previous definition
// with the same canonical URL.
func (r *Registry) Put(sd *StructureDefinition) error {
	if sd == nil {
		return fmt.Errorf("structure definition is nil")
	}
	if sd.URL == "" {
		return fmt.Errorf("structure definition has no canonical URL")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byURL[sd.URL]; exists {
		logger.Warn("replacing structure definition %s", sd.URL)
	}
	r.byURL[sd.URL] = sd

	// Index by type only for THE base definition of the type, so profiles
	// never shadow their base.
	if sd.Type != "" && isBaseTypeDefinition(sd.URL, sd.Type) {
		switch sd.Kind {
		case "resource", "complex-type", "primitive-type":
			r.byType[sd.Type] = sd
		}
	}

	return nil
}

// PutR4 converts a typed R4 StructureDefinition and registers it.
func (r *Registry) PutR4(sd *r4.StructureDefinition) error {
	converted := r.converter.Convert(sd)
	if converted == nil {
		return fmt.Errorf("structure definition is nil")
	}
	return r.Put(converted)
}

// Get returns the definition registered under the given canonical URL.
func (r *Registry) Get(url string) (*StructureDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sd, ok := r.byURL[url]
	return sd, ok
}

// GetByType returns the base definition for a type name, falling back to
// the canonical URL for types indexed only by URL.
func (r *Registry) GetByType(typeName string) (*StructureDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sd, ok := r.byType[typeName]; ok {
		return sd, true
	}
	if sd, ok := r.byURL[baseCanonicalPrefix+typeName]; ok {
		return sd, true
	}
	return nil, false
}

// URLs returns the canonical URLs of all registered definitions, sorted.
func (r *Registry) URLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urls := make([]string, 0, len(r.byURL))
	for url := range r.byURL {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// ResourceNames returns the type names of all registered resource
// definitions, sorted.
func (r *Registry) ResourceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byType))
	for name, sd := range r.byType {
		if sd.Kind == "resource" && !sd.Abstract {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byURL)
}

// isBaseTypeDefinition checks if a URL is THE base definition for its type.
// http://hl7.org/fhir/StructureDefinition/Patient is the base for Patient;
// a profile such as us-core-patient is not.
func isBaseTypeDefinition(url, typeName string) bool {
	if typeName == "" {
		return false
	}
	return url == baseCanonicalPrefix+typeName
}
