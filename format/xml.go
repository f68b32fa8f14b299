package format

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/gofhir/igvalidator/profile"
)

// FHIR XML carries primitive values in a "value" attribute on each
// element. These types decode that shape for the structure definition
// fields validation needs.

type xmlValue struct {
	Value string `xml:"value,attr"`
}

type xmlTypeRef struct {
	Code          xmlValue   `xml:"code"`
	Profile       []xmlValue `xml:"profile"`
	TargetProfile []xmlValue `xml:"targetProfile"`
}

type xmlBinding struct {
	Strength    xmlValue `xml:"strength"`
	ValueSet    xmlValue `xml:"valueSet"`
	Description xmlValue `xml:"description"`
}

type xmlConstraint struct {
	Key        xmlValue `xml:"key"`
	Severity   xmlValue `xml:"severity"`
	Human      xmlValue `xml:"human"`
	Expression xmlValue `xml:"expression"`
}

type xmlElement struct {
	ID          string          `xml:"id,attr"`
	Path        xmlValue        `xml:"path"`
	SliceName   xmlValue        `xml:"sliceName"`
	Min         xmlValue        `xml:"min"`
	Max         xmlValue        `xml:"max"`
	Types       []xmlTypeRef    `xml:"type"`
	Binding     *xmlBinding     `xml:"binding"`
	Constraints []xmlConstraint `xml:"constraint"`
	MustSupport xmlValue        `xml:"mustSupport"`
}

type xmlStructureDefinition struct {
	XMLName        xml.Name `xml:"StructureDefinition"`
	URL            xmlValue `xml:"url"`
	Name           xmlValue `xml:"name"`
	Type           xmlValue `xml:"type"`
	Kind           xmlValue `xml:"kind"`
	Abstract       xmlValue `xml:"abstract"`
	BaseDefinition xmlValue `xml:"baseDefinition"`
	FHIRVersion    xmlValue `xml:"fhirVersion"`
	Snapshot       struct {
		Element []xmlElement `xml:"element"`
	} `xml:"snapshot"`
	Differential struct {
		Element []xmlElement `xml:"element"`
	} `xml:"differential"`
}

func parseXML(data []byte) (*profile.StructureDefinition, error) {
	var raw xmlStructureDefinition
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Format: XML, Err: err}
	}
	if raw.URL.Value == "" {
		return nil, &ParseError{Format: XML, Err: fmt.Errorf("missing canonical url")}
	}

	return &profile.StructureDefinition{
		URL:            raw.URL.Value,
		Name:           raw.Name.Value,
		Type:           raw.Type.Value,
		Kind:           raw.Kind.Value,
		Abstract:       raw.Abstract.Value == "true",
		BaseDefinition: raw.BaseDefinition.Value,
		FHIRVersion:    raw.FHIRVersion.Value,
		Snapshot:       convertXMLElements(raw.Snapshot.Element),
		Differential:   convertXMLElements(raw.Differential.Element),
	}, nil
}

func convertXMLElements(elements []xmlElement) []profile.ElementDefinition {
	if len(elements) == 0 {
		return nil
	}

	result := make([]profile.ElementDefinition, 0, len(elements))
	for i := range elements {
		result = append(result, convertXMLElement(&elements[i]))
	}
	return result
}

func convertXMLElement(el *xmlElement) profile.ElementDefinition {
	minCard, _ := strconv.Atoi(el.Min.Value)

	ed := profile.ElementDefinition{
		ID:          el.ID,
		Path:        el.Path.Value,
		SliceName:   el.SliceName.Value,
		Min:         minCard,
		Max:         el.Max.Value,
		MustSupport: el.MustSupport.Value == "true",
	}

	for _, t := range el.Types {
		ed.Types = append(ed.Types, profile.TypeRef{
			Code:          t.Code.Value,
			Profile:       xmlValues(t.Profile),
			TargetProfile: xmlValues(t.TargetProfile),
		})
	}

	if el.Binding != nil {
		ed.Binding = &profile.Binding{
			Strength:    el.Binding.Strength.Value,
			ValueSet:    el.Binding.ValueSet.Value,
			Description: el.Binding.Description.Value,
		}
	}

	for _, con := range el.Constraints {
		ed.Constraints = append(ed.Constraints, profile.Constraint{
			Key:        con.Key.Value,
			Severity:   con.Severity.Value,
			Human:      con.Human.Value,
			Expression: con.Expression.Value,
		})
	}

	return ed
}

func xmlValues(vals []xmlValue) []string {
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Value)
	}
	return out
}
