// Package igvalidator validates FHIR resources against the profiles of an
// implementation guide.
//
// The module orchestrates three collaborators: the FHIR package registry
// (implementation-guide packages and their dependencies), a terminology
// server (code and value-set checks), and a validation engine holding the
// loaded structure definitions. The orchestrator itself lives in the
// validator subpackage:
//
//	import "github.com/gofhir/igvalidator/validator"
//
//	v, err := validator.New(ctx, "hl7.fhir.us.core#6.1.0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	outcome, err := v.Validate(ctx, resourceJSON, []string{
//	    "http://hl7.org/fhir/us/core/StructureDefinition/us-core-patient",
//	})
//	if err != nil {
//	    // validation could not be performed (bad JSON, unknown profile,
//	    // terminology server failure)
//	}
//	for _, issue := range outcome.Issues {
//	    fmt.Println(issue)
//	}
//
// This root package holds the types shared across the module: the issue and
// outcome model, and the pinned base specification version.
//
// # Architecture
//
//   - registry: package registry client, dependency resolver, IG catalog
//   - terminology: terminology server connection
//   - profile: structure definition model and URL-keyed registry
//   - format: JSON/XML detection and profile parsing
//   - engine: the validation engine handle driven by the orchestrator
//   - validator: the orchestrator (construct, load profiles, validate)
package igvalidator
