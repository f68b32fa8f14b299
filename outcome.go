package igvalidator

import "sync"

// Outcome contains the result of validating a single resource.
// Issues are kept in the order they were reported.
type Outcome struct {
	// Valid is true if no error or fatal issues were found.
	Valid bool `json:"valid"`

	// Issues contains all validation issues found, in report order.
	Issues []Issue `json:"issues,omitempty"`

	// ResourceType is the type of resource that was validated.
	ResourceType string `json:"resourceType,omitempty"`

	// ProfileURLs are the profiles the resource was validated against.
	ProfileURLs []string `json:"profileUrls,omitempty"`

	// mu protects concurrent appends to Issues.
	mu sync.Mutex
}

// NewOutcome creates an empty, valid outcome.
func NewOutcome() *Outcome {
	return &Outcome{
		Valid:  true,
		Issues: make([]Issue, 0, 8),
	}
}

// AddIssue appends a validation issue to the outcome.
// This method is thread-safe.
func (o *Outcome) AddIssue(issue Issue) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.Issues = append(o.Issues, issue)
	if issue.IsError() {
		o.Valid = false
	}
}

// AddError appends an error issue.
func (o *Outcome) AddError(code IssueType, diagnostics, path string) {
	o.AddIssue(Issue{
		Severity:    SeverityError,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expressionFor(path),
	})
}

// AddWarning appends a warning issue.
func (o *Outcome) AddWarning(code IssueType, diagnostics, path string) {
	o.AddIssue(Issue{
		Severity:    SeverityWarning,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expressionFor(path),
	})
}

// AddInfo appends an informational issue.
func (o *Outcome) AddInfo(code IssueType, diagnostics, path string) {
	o.AddIssue(Issue{
		Severity:    SeverityInformation,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expressionFor(path),
	})
}

func expressionFor(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

// HasErrors returns true if there are any error or fatal issues.
func (o *Outcome) HasErrors() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, issue := range o.Issues {
		if issue.IsError() {
			return true
		}
	}
	return false
}

// HasFatal returns true if there are any fatal issues.
func (o *Outcome) HasFatal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, issue := range o.Issues {
		if issue.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of error and fatal issues.
func (o *Outcome) ErrorCount() int {
	return o.count(Issue.IsError)
}

// WarningCount returns the number of warning issues.
func (o *Outcome) WarningCount() int {
	return o.count(Issue.IsWarning)
}

// InfoCount returns the number of informational issues.
func (o *Outcome) InfoCount() int {
	return o.count(func(i Issue) bool { return i.Severity == SeverityInformation })
}

func (o *Outcome) count(match func(Issue) bool) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, issue := range o.Issues {
		if match(issue) {
			n++
		}
	}
	return n
}

// Errors returns all error and fatal issues, in report order.
func (o *Outcome) Errors() []Issue {
	return o.filter(Issue.IsError)
}

// Warnings returns all warning issues, in report order.
func (o *Outcome) Warnings() []Issue {
	return o.filter(Issue.IsWarning)
}

func (o *Outcome) filter(match func(Issue) bool) []Issue {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Issue
	for _, issue := range o.Issues {
		if match(issue) {
			out = append(out, issue)
		}
	}
	return out
}
