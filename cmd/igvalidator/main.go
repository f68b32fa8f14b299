// Package main implements the igvalidator CLI tool: it validates FHIR
// resources against an implementation guide and lists the guides
// published in the package registry.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	igvalidator "github.com/gofhir/igvalidator"
	"github.com/gofhir/igvalidator/pkg/logger"
	"github.com/gofhir/igvalidator/validator"
)

const (
	version = "0.1.0"
	usage   = `igvalidator - validate FHIR resources against an implementation guide

Usage:
  igvalidator -ig <name#version> [options] <file>...
  igvalidator -ig <name#version> [options] -   (read from stdin)
  igvalidator -list-igs

Examples:
  igvalidator -ig hl7.fhir.us.core#6.1.0 patient.json
  igvalidator -ig hl7.fhir.us.core#6.1.0 -profile http://hl7.org/fhir/us/core/StructureDefinition/us-core-patient patient.json
  igvalidator -ig hl7.fhir.uv.ips#1.1.0 -output json bundle.json
  cat patient.json | igvalidator -ig hl7.fhir.us.core#6.1.0 -

Options:
`
)

// Config holds the CLI configuration.
type Config struct {
	IG           string
	Profiles     []string
	ProfileFiles []string
	TxEndpoint   string
	CacheDir     string
	RegistryURL  string
	Output       string
	ListIGs      bool
	Verbose      bool
	ShowVersion  bool
	Files        []string
}

// ValidationOutput is the JSON output for one validated resource.
type ValidationOutput struct {
	Resource string              `json:"resource"`
	Valid    bool                `json:"valid"`
	Errors   int                 `json:"errors"`
	Warnings int                 `json:"warnings"`
	Info     int                 `json:"info"`
	Issues   []igvalidator.Issue `json:"issues,omitempty"`
	Duration string              `json:"duration"`
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("igvalidator v%s\n", version)
		os.Exit(0)
	}

	if config.Verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	os.Exit(run(config))
}

func parseFlags() *Config {
	config := &Config{}

	var profiles, profileFiles string

	flag.StringVar(&config.IG, "ig", "", "Implementation guide to load (e.g. hl7.fhir.us.core#6.1.0)")
	flag.StringVar(&profiles, "profile", "", "Profile URL(s) to validate against (comma-separated)")
	flag.StringVar(&profileFiles, "profile-file", "", "Profile file(s) to register before validating (comma-separated)")
	flag.StringVar(&config.TxEndpoint, "tx", "", "Terminology server endpoint (default from TX_SERVER_URL)")
	flag.StringVar(&config.CacheDir, "cache", "", "Package cache directory (default ~/.fhir/packages)")
	flag.StringVar(&config.RegistryURL, "registry", "", "Package registry URL (default https://packages.fhir.org)")
	flag.StringVar(&config.Output, "output", "text", "Output format: text, json")
	flag.BoolVar(&config.ListIGs, "list-igs", false, "List implementation guides known to the registry and exit")
	flag.BoolVar(&config.Verbose, "verbose", false, "Show debug logging")
	flag.BoolVar(&config.ShowVersion, "v", false, "Show version")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}

	flag.Parse()

	if profiles != "" {
		config.Profiles = splitTrim(profiles)
	}
	if profileFiles != "" {
		config.ProfileFiles = splitTrim(profileFiles)
	}
	config.Files = flag.Args()

	return config
}

func splitTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func run(config *Config) int {
	ctx := context.Background()

	if config.IG == "" && !config.ListIGs {
		flag.Usage()
		return 2
	}
	if !config.ListIGs && len(config.Files) == 0 {
		flag.Usage()
		return 2
	}

	var opts []validator.Option
	if config.TxEndpoint != "" {
		opts = append(opts, validator.WithTxEndpoint(config.TxEndpoint))
	}
	if config.CacheDir != "" {
		opts = append(opts, validator.WithCacheDir(config.CacheDir))
	}
	if config.RegistryURL != "" {
		opts = append(opts, validator.WithRegistryURL(config.RegistryURL))
	}

	// -list-igs only needs the registry, but the orchestrator owns the
	// discovery handle, so a minimal guide is still required.
	igID := config.IG
	if igID == "" {
		igID = igvalidator.BaseSpecPackage()
	}

	fmt.Fprintf(os.Stderr, "Loading %s...\n", igID)
	v, err := validator.New(ctx, igID, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize validator: %v\n", err)
		return 1
	}

	if config.ListIGs {
		return listIGs(ctx, v)
	}

	for _, path := range config.ProfileFiles {
		if err := v.LoadProfileFromFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load profile %s: %v\n", path, err)
			return 1
		}
	}

	hasErrors := false
	outputs := make([]ValidationOutput, 0, len(config.Files))

	for _, file := range config.Files {
		output, fileHasErrors := validateFile(ctx, v, file, config)
		outputs = append(outputs, output)
		if fileHasErrors {
			hasErrors = true
		}
	}

	if config.Output == "json" {
		jsonOutput, _ := json.MarshalIndent(outputs, "", "  ")
		fmt.Println(string(jsonOutput))
	}

	if hasErrors {
		return 1
	}
	return 0
}

func listIGs(ctx context.Context, v *validator.Validator) int {
	igs, err := v.GetKnownIGs(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list implementation guides: %v\n", err)
		return 1
	}

	for _, ig := range igs {
		if ig.Description != "" {
			fmt.Printf("%s\t%s\n", ig.Name, ig.Description)
		} else {
			fmt.Println(ig.Name)
		}
	}
	return 0
}

func validateFile(ctx context.Context, v *validator.Validator, path string, config *Config) (ValidationOutput, bool) {
	var data []byte
	var err error
	name := path

	if path == "-" {
		name = "stdin"
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", name, err)
		return ValidationOutput{
			Resource: name,
			Valid:    false,
			Errors:   1,
			Issues: []igvalidator.Issue{{
				Severity:    igvalidator.SeverityError,
				Code:        igvalidator.IssueTypeProcessing,
				Diagnostics: fmt.Sprintf("failed to read input: %v", err),
			}},
		}, true
	}

	start := time.Now()
	outcome, err := v.Validate(ctx, data, config.Profiles)
	duration := time.Since(start)

	if err != nil {
		if config.Output == "text" {
			fmt.Printf("Error validating %s: %v\n", name, err)
		}
		return ValidationOutput{
			Resource: name,
			Valid:    false,
			Errors:   1,
			Duration: duration.String(),
			Issues: []igvalidator.Issue{{
				Severity:    igvalidator.SeverityError,
				Code:        igvalidator.IssueTypeProcessing,
				Diagnostics: fmt.Sprintf("validation failed: %v", err),
			}},
		}, true
	}

	output := ValidationOutput{
		Resource: name,
		Valid:    outcome.Valid,
		Errors:   outcome.ErrorCount(),
		Warnings: outcome.WarningCount(),
		Info:     outcome.InfoCount(),
		Issues:   outcome.Issues,
		Duration: duration.Round(time.Microsecond).String(),
	}

	if config.Output == "text" {
		printTextResult(name, outcome, duration)
	}

	return output, outcome.HasErrors()
}

func printTextResult(name string, outcome *igvalidator.Outcome, duration time.Duration) {
	status := "VALID"
	if outcome.HasErrors() {
		status = "INVALID"
	}

	fmt.Printf("== %s ==\n", name)
	fmt.Printf("Status: %s\n", status)
	fmt.Printf("Errors: %d, Warnings: %d, Info: %d\n",
		outcome.ErrorCount(), outcome.WarningCount(), outcome.InfoCount())
	fmt.Printf("Duration: %s\n", duration.Round(time.Microsecond))

	if len(outcome.Issues) > 0 {
		fmt.Println("\nIssues:")
		for _, iss := range outcome.Issues {
			location := ""
			if len(iss.Expression) > 0 {
				location = fmt.Sprintf(" @ %s", strings.Join(iss.Expression, ", "))
			}
			fmt.Printf("  %-5s [%s] %s%s\n", severityLabel(iss.Severity), iss.Code, iss.Diagnostics, location)
		}
	}

	fmt.Println()
}

func severityLabel(severity igvalidator.Severity) string {
	switch severity {
	case igvalidator.SeverityFatal:
		return "FATAL"
	case igvalidator.SeverityError:
		return "ERROR"
	case igvalidator.SeverityWarning:
		return "WARN"
	case igvalidator.SeverityInformation:
		return "INFO"
	default:
		return ""
	}
}
