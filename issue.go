package igvalidator

// Severity represents the severity of a validation issue.
// Maps to OperationOutcome.issue.severity in FHIR.
type Severity string

const (
	// SeverityFatal indicates the issue is fatal and validation cannot continue.
	SeverityFatal Severity = "fatal"
	// SeverityError indicates a validation error that makes the resource invalid.
	SeverityError Severity = "error"
	// SeverityWarning indicates a potential problem that should be reviewed.
	SeverityWarning Severity = "warning"
	// SeverityInformation indicates informational feedback.
	SeverityInformation Severity = "information"
)

// IssueType identifies the kind of validation issue.
// Maps to OperationOutcome.issue.code in FHIR.
type IssueType string

const (
	// IssueTypeInvalid indicates the content is invalid against the specification.
	IssueTypeInvalid IssueType = "invalid"
	// IssueTypeStructure indicates a structural issue.
	IssueTypeStructure IssueType = "structure"
	// IssueTypeRequired indicates a required element is missing.
	IssueTypeRequired IssueType = "required"
	// IssueTypeValue indicates an invalid value.
	IssueTypeValue IssueType = "value"
	// IssueTypeInvariant indicates an invariant violation.
	IssueTypeInvariant IssueType = "invariant"
	// IssueTypeCodeInvalid indicates a code not valid in its binding.
	IssueTypeCodeInvalid IssueType = "code-invalid"
	// IssueTypeExtension indicates an extension-related issue.
	IssueTypeExtension IssueType = "extension"
	// IssueTypeNotFound indicates a referenced definition was not found.
	IssueTypeNotFound IssueType = "not-found"
	// IssueTypeProcessing indicates a processing error.
	IssueTypeProcessing IssueType = "processing"
	// IssueTypeInformational indicates informational content.
	IssueTypeInformational IssueType = "informational"
)

// Issue is a single validation issue.
// It maps to OperationOutcome.issue in FHIR.
type Issue struct {
	// Severity of the issue.
	Severity Severity `json:"severity"`

	// Code identifying the type of issue.
	Code IssueType `json:"code"`

	// Diagnostics contains human-readable details about the issue.
	Diagnostics string `json:"diagnostics,omitempty"`

	// Expression contains FHIRPath expression(s) to the element(s) in error.
	Expression []string `json:"expression,omitempty"`
}

// IsError returns true if this is an error or fatal issue.
func (i Issue) IsError() bool {
	return i.Severity == SeverityError || i.Severity == SeverityFatal
}

// IsWarning returns true if this is a warning.
func (i Issue) IsWarning() bool {
	return i.Severity == SeverityWarning
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	path := ""
	if len(i.Expression) > 0 {
		path = " at " + i.Expression[0]
	}
	return string(i.Severity) + ": " + i.Diagnostics + path
}
