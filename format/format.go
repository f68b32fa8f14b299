// Package format detects the serialization format of FHIR content and
// parses structure definitions out of it.
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/igvalidator/profile"
)

// Format is a FHIR serialization format.
type Format string

const (
	// JSON is FHIR JSON.
	JSON Format = "json"
	// XML is FHIR XML.
	XML Format = "xml"
	// Unknown is content that is neither JSON nor XML.
	Unknown Format = "unknown"
)

// ErrUnknownFormat is returned when content is neither JSON nor XML.
var ErrUnknownFormat = errors.New("content is neither JSON nor XML")

// ParseError reports content that was recognized as a format but could
// not be parsed as a structure definition. It is distinct from I/O
// errors: callers use errors.As to tell a malformed file from a missing
// one.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s structure definition: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Detect determines the serialization format from content, using the
// first non-whitespace byte.
func Detect(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return Unknown
	}
	switch trimmed[0] {
	case '{':
		return JSON
	case '<':
		return XML
	default:
		return Unknown
	}
}

// ParseStructureDefinition detects the format of data and parses it into
// the internal structure definition model. Unrecognized content returns
// ErrUnknownFormat; recognized but malformed content returns *ParseError.
func ParseStructureDefinition(data []byte) (*profile.StructureDefinition, error) {
	switch Detect(data) {
	case JSON:
		return parseJSON(data)
	case XML:
		return parseXML(data)
	default:
		return nil, ErrUnknownFormat
	}
}

func parseJSON(data []byte) (*profile.StructureDefinition, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ParseError{Format: JSON, Err: err}
	}
	if probe.ResourceType != "StructureDefinition" {
		return nil, &ParseError{
			Format: JSON,
			Err:    fmt.Errorf("expected StructureDefinition, got %q", probe.ResourceType),
		}
	}

	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, &ParseError{Format: JSON, Err: err}
	}

	converted := profile.NewR4Converter().Convert(&sd)
	if converted.URL == "" {
		return nil, &ParseError{Format: JSON, Err: errors.New("missing canonical url")}
	}
	return converted, nil
}
