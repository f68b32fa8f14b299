package igvalidator

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// DefinitionsVersion is the release line of the base specification the
// validator is pinned to. Publication versions are resolved from it
// through the release table.
const DefinitionsVersion = "4.0"

// releases maps a release line to its publication versions, oldest first.
var releases = map[string][]string{
	"4.0": {"4.0.0", "4.0.1"},
	"4.3": {"4.3.0"},
	"5.0": {"5.0.0"},
}

// corePackages maps a release line to its core definitions package.
var corePackages = map[string]string{
	"4.0": "hl7.fhir.r4.core",
	"4.3": "hl7.fhir.r4b.core",
	"5.0": "hl7.fhir.r5.core",
}

// PackageForVersion returns the core definitions package for a release line.
func PackageForVersion(line string) (string, error) {
	pkg, ok := corePackages[line]
	if !ok {
		return "", fmt.Errorf("unknown release line: %s", line)
	}
	return pkg, nil
}

// CurrentVersion returns the most recent publication version of a release
// line, such as "4.0.1" for the "4.0" line.
func CurrentVersion(line string) (string, error) {
	published, ok := releases[line]
	if !ok {
		return "", fmt.Errorf("unknown release line: %s", line)
	}

	latest, err := semver.NewVersion(published[0])
	if err != nil {
		return "", fmt.Errorf("invalid publication version %q: %w", published[0], err)
	}
	for _, raw := range published[1:] {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return "", fmt.Errorf("invalid publication version %q: %w", raw, err)
		}
		if v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest.Original(), nil
}

// PublicationVersion returns the publication version of the pinned base
// specification.
func PublicationVersion() string {
	v, err := CurrentVersion(DefinitionsVersion)
	if err != nil {
		// The pinned line is always present in the release table.
		panic(err)
	}
	return v
}

// BaseSpecPackage returns the pinned base specification package in
// name#version form.
func BaseSpecPackage() string {
	pkg, err := PackageForVersion(DefinitionsVersion)
	if err != nil {
		panic(err)
	}
	return pkg + "#" + PublicationVersion()
}
