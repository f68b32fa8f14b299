package validator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gofhir/igvalidator/format"
	"github.com/gofhir/igvalidator/pkg/logger"
	"github.com/gofhir/igvalidator/profile"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	m.Run()
}

const patientSD = `{
	"resourceType": "StructureDefinition",
	"url": "http://hl7.org/fhir/StructureDefinition/Patient",
	"name": "Patient",
	"type": "Patient",
	"kind": "resource",
	"snapshot": {
		"element": [
			{"path": "Patient", "min": 0, "max": "*"},
			{"path": "Patient.active", "min": 0, "max": "1", "type": [{"code": "boolean"}]},
			{"path": "Patient.name", "min": 0, "max": "*", "type": [{"code": "HumanName"}]}
		]
	}
}`

const observationSD = `{
	"resourceType": "StructureDefinition",
	"url": "http://hl7.org/fhir/StructureDefinition/Observation",
	"name": "Observation",
	"type": "Observation",
	"kind": "resource",
	"snapshot": {
		"element": [
			{"path": "Observation", "min": 0, "max": "*"},
			{"path": "Observation.status", "min": 1, "max": "1", "type": [{"code": "code"}]}
		]
	}
}`

const strictPatientSD = `{
	"resourceType": "StructureDefinition",
	"url": "http://example.org/fhir/StructureDefinition/strict-patient",
	"name": "StrictPatient",
	"type": "Patient",
	"kind": "resource",
	"baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
	"snapshot": {
		"element": [
			{"path": "Patient", "min": 0, "max": "*"},
			{"path": "Patient.active", "min": 0, "max": "1", "type": [{"code": "boolean"}]},
			{"path": "Patient.name", "min": 1, "max": "*", "type": [{"code": "HumanName"}]}
		]
	}
}`

const testIG = "hl7.fhir.test.ig#1.0.0"

func writeCachedPackage(t *testing.T, cacheDir, name, version string, deps map[string]string, definitions map[string]string) {
	t.Helper()

	pkgDir := filepath.Join(cacheDir, name+"#"+version, "package")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	manifest := map[string]any{
		"name":         name,
		"version":      version,
		"fhirVersions": []string{"4.0.1"},
	}
	if len(deps) > 0 {
		manifest["dependencies"] = deps
	}
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "package.json"), manifestData, 0o644); err != nil {
		t.Fatal(err)
	}

	for fileName, content := range definitions {
		path := filepath.Join(pkgDir, "StructureDefinition-"+fileName+".json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestCache(t *testing.T) string {
	t.Helper()

	cacheDir := t.TempDir()
	writeCachedPackage(t, cacheDir, "hl7.fhir.r4.core", "4.0.1", nil, map[string]string{
		"Patient":     patientSD,
		"Observation": observationSD,
	})
	writeCachedPackage(t, cacheDir, "hl7.fhir.test.ig", "1.0.0",
		map[string]string{"hl7.fhir.r4.core": "4.0.1"},
		nil)
	return cacheDir
}

// newTxServer serves a CapabilityStatement and accepts every
// $validate-code call.
func newTxServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		if r.URL.Path == "/metadata" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"resourceType": "CapabilityStatement",
				"fhirVersion":  "4.0.1",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resourceType": "Parameters",
			"parameter":    []map[string]any{{"name": "result", "valueBoolean": true}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestValidator(t *testing.T, extraOpts ...Option) *Validator {
	t.Helper()

	opts := append([]Option{
		WithCacheDir(newTestCache(t)),
		WithRegistryURL("http://registry.invalid"),
		WithTxEndpoint(newTxServer(t).URL),
	}, extraOpts...)

	v, err := New(context.Background(), testIG, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return v
}

func TestNew(t *testing.T) {
	v := newTestValidator(t)

	resources := v.GetResources()
	seen := map[string]bool{}
	for _, name := range resources {
		seen[name] = true
	}
	if !seen["Patient"] || !seen["Observation"] {
		t.Errorf("GetResources() = %v, want Patient and Observation", resources)
	}
}

func TestNewFailsOnUnknownIG(t *testing.T) {
	_, err := New(context.Background(), "no.such.ig#1.0.0",
		WithCacheDir(newTestCache(t)),
		WithRegistryURL("http://registry.invalid"),
		WithTxEndpoint(newTxServer(t).URL))
	if err == nil {
		t.Error("expected error for unknown implementation guide")
	}
}

func TestNewFailsOnTxServerDown(t *testing.T) {
	txSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	txSrv.Close()

	_, err := New(context.Background(), testIG,
		WithCacheDir(newTestCache(t)),
		WithRegistryURL("http://registry.invalid"),
		WithTxEndpoint(txSrv.URL))
	if err == nil {
		t.Error("expected error when the terminology server is unreachable")
	}
}

func TestValidate(t *testing.T) {
	v := newTestValidator(t)

	t.Run("valid resource", func(t *testing.T) {
		outcome, err := v.Validate(context.Background(),
			[]byte(`{"resourceType": "Patient", "active": true}`), nil)
		if err != nil {
			t.Fatalf("Validate error: %v", err)
		}
		if !outcome.Valid {
			t.Errorf("outcome should be valid, issues: %v", outcome.Issues)
		}
	})

	t.Run("invalid resource", func(t *testing.T) {
		outcome, err := v.Validate(context.Background(),
			[]byte(`{"resourceType": "Observation"}`), nil)
		if err != nil {
			t.Fatalf("Validate error: %v", err)
		}
		if outcome.Valid {
			t.Error("observation without status should be invalid")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := v.Validate(context.Background(), []byte(`{`), nil); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := v.Validate(context.Background(),
			[]byte(`{"resourceType": "Patient"}`),
			[]string{"http://example.org/fhir/StructureDefinition/missing"})
		if err == nil {
			t.Error("expected error for unknown profile URL")
		}
	})
}

func TestLoadProfile(t *testing.T) {
	v := newTestValidator(t)

	before := len(v.GetStructures())

	url := "http://example.org/fhir/StructureDefinition/runtime-profile"
	err := v.LoadProfile(&profile.StructureDefinition{
		URL:  url,
		Name: "RuntimeProfile",
		Type: "Patient",
		Kind: "resource",
		Snapshot: []profile.ElementDefinition{
			{Path: "Patient", Min: 0, Max: "*"},
		},
	})
	if err != nil {
		t.Fatalf("LoadProfile error: %v", err)
	}

	structures := v.GetStructures()
	if len(structures) != before+1 {
		t.Errorf("len(GetStructures()) = %d, want %d", len(structures), before+1)
	}

	if _, err := v.Validate(context.Background(),
		[]byte(`{"resourceType": "Patient"}`), []string{url}); err != nil {
		t.Errorf("loaded profile should be usable: %v", err)
	}
}

func TestLoadProfileFromFile(t *testing.T) {
	v := newTestValidator(t)

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strict-patient.json")
		if err := os.WriteFile(path, []byte(strictPatientSD), 0o644); err != nil {
			t.Fatal(err)
		}

		if err := v.LoadProfileFromFile(path); err != nil {
			t.Fatalf("LoadProfileFromFile error: %v", err)
		}

		outcome, err := v.Validate(context.Background(),
			[]byte(`{"resourceType": "Patient"}`),
			[]string{"http://example.org/fhir/StructureDefinition/strict-patient"})
		if err != nil {
			t.Fatalf("Validate error: %v", err)
		}
		if outcome.Valid {
			t.Error("patient without name should violate the strict profile")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		err := v.LoadProfileFromFile(filepath.Join(t.TempDir(), "nope.json"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("error = %v, want fs.ErrNotExist", err)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		if err := os.WriteFile(path, []byte(`{"resourceType": "StructureDefinition",`), 0o644); err != nil {
			t.Fatal(err)
		}

		before := len(v.GetStructures())

		err := v.LoadProfileFromFile(path)
		var perr *format.ParseError
		if !errors.As(err, &perr) {
			t.Errorf("error = %v, want *format.ParseError", err)
		}
		if len(v.GetStructures()) != before {
			t.Error("failed parse must leave the registry unchanged")
		}
	})
}

func TestGetKnownIGs(t *testing.T) {
	catalog := []map[string]any{
		{"Name": "hl7.fhir.us.core", "Description": "US Core"},
		{"Name": "hl7.fhir.uv.ips", "Description": "IPS"},
	}

	regSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/catalog" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(catalog)
	}))
	defer regSrv.Close()

	v := newTestValidator(t, WithRegistryURL(regSrv.URL))

	igs, err := v.GetKnownIGs(context.Background())
	if err != nil {
		t.Fatalf("GetKnownIGs error: %v", err)
	}
	if len(igs) != 2 {
		t.Fatalf("len(igs) = %d, want 2", len(igs))
	}
	if igs[0].Name != "hl7.fhir.us.core" {
		t.Errorf("igs[0].Name = %q", igs[0].Name)
	}
}

func TestGetKnownIGsFailure(t *testing.T) {
	v := newTestValidator(t)

	if _, err := v.GetKnownIGs(context.Background()); err == nil {
		t.Error("expected error when the registry is unreachable")
	}
}

func TestGetKnownIGsRetriesAfterFailure(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	regSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"Name": "hl7.fhir.us.core"}})
	}))
	defer regSrv.Close()

	v := newTestValidator(t, WithRegistryURL(regSrv.URL))

	if _, err := v.GetKnownIGs(context.Background()); err == nil {
		t.Fatal("expected first call to fail")
	}

	failing.Store(false)
	igs, err := v.GetKnownIGs(context.Background())
	if err != nil {
		t.Fatalf("second GetKnownIGs error: %v", err)
	}
	if len(igs) != 1 {
		t.Errorf("len(igs) = %d, want 1", len(igs))
	}
}

func TestTxServerURLFromEnvironment(t *testing.T) {
	t.Setenv(TxServerEnv, "http://tx.example.org")
	if got := txServerURL(); got != "http://tx.example.org" {
		t.Errorf("txServerURL() = %q, want http://tx.example.org", got)
	}

	t.Setenv(TxServerEnv, "")
	if got := txServerURL(); got != "http://tx.fhir.org" {
		t.Errorf("txServerURL() = %q, want default endpoint", got)
	}
}
