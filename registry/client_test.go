package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofhir/igvalidator/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	m.Run()
}

// buildPackageTgz builds an in-memory FHIR package tarball with the
// given manifest and resource files (name -> content).
func buildPackageTgz(t *testing.T, manifest PackageManifest, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	manifestData, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	all := map[string]string{"package/package.json": string(manifestData)}
	for name, content := range files {
		all["package/"+name] = content
	}

	for name, content := range all {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar content: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// fakeRegistry serves npm-style metadata and tarballs for a set of
// packages keyed by "name#version".
type fakeRegistry struct {
	packages map[string][]byte // name#version -> tgz
	deps     map[string]map[string]string
	latest   map[string]string // name -> version
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		packages: make(map[string][]byte),
		deps:     make(map[string]map[string]string),
		latest:   make(map[string]string),
	}
}

func (f *fakeRegistry) add(t *testing.T, name, version string, deps map[string]string, files map[string]string) {
	t.Helper()
	manifest := PackageManifest{
		Name:         name,
		Version:      version,
		FHIRVersions: []string{"4.0.1"},
		Dependencies: deps,
	}
	f.packages[name+"#"+version] = buildPackageTgz(t, manifest, files)
	f.deps[name+"#"+version] = deps
	f.latest[name] = version
}

func (f *fakeRegistry) server(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[1:]

		// Tarball downloads are served under /tarballs/.
		if rest, ok := strings.CutPrefix(name, "tarballs/"); ok {
			data, found := f.packages[rest]
			if !found {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(data)
			return
		}

		latest, ok := f.latest[name]
		if !ok {
			http.NotFound(w, r)
			return
		}

		versions := make(map[string]any)
		for key := range f.packages {
			pkgName, version, _ := strings.Cut(key, "#")
			if pkgName != name {
				continue
			}
			versions[version] = map[string]any{
				"version":     version,
				"fhirVersion": "4.0.1",
				"dist": map[string]any{
					"tarball": srv.URL + "/tarballs/" + url.PathEscape(key),
				},
			}
		}

		meta := map[string]any{
			"name":      name,
			"dist-tags": map[string]string{"latest": latest},
			"versions":  versions,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meta)
	})

	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(
		WithRegistryURL(srv.URL),
		WithCacheDir(t.TempDir()),
	)
}

func TestGetPackageInfo(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(t, "hl7.fhir.us.core", "6.1.0", nil, nil)
	srv := reg.server(t)
	client := newTestClient(t, srv)

	info, err := client.GetPackageInfo(context.Background(), "hl7.fhir.us.core", "6.1.0")
	if err != nil {
		t.Fatalf("GetPackageInfo error: %v", err)
	}
	if info.Name != "hl7.fhir.us.core" || info.Version != "6.1.0" {
		t.Errorf("info = %+v", info)
	}
}

func TestGetPackageInfoLatest(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(t, "hl7.fhir.us.core", "5.0.1", nil, nil)
	reg.add(t, "hl7.fhir.us.core", "6.1.0", nil, nil)
	srv := reg.server(t)
	client := newTestClient(t, srv)

	info, err := client.GetPackageInfo(context.Background(), "hl7.fhir.us.core", "latest")
	if err != nil {
		t.Fatalf("GetPackageInfo error: %v", err)
	}
	if info.Version != "6.1.0" {
		t.Errorf("Version = %q, want 6.1.0 (latest dist-tag)", info.Version)
	}
}

func TestGetPackageInfoNotFound(t *testing.T) {
	reg := newFakeRegistry()
	srv := reg.server(t)
	client := newTestClient(t, srv)

	if _, err := client.GetPackageInfo(context.Background(), "no.such.package", "1.0.0"); err == nil {
		t.Error("expected error for unknown package")
	}
}

func TestGetPackageDownloadsAndExtracts(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(t, "hl7.fhir.us.core", "6.1.0", nil, map[string]string{
		"StructureDefinition-us-core-patient.json": `{"resourceType":"StructureDefinition"}`,
	})
	srv := reg.server(t)
	client := newTestClient(t, srv)

	path, err := client.GetPackage(context.Background(), "hl7.fhir.us.core", "6.1.0")
	if err != nil {
		t.Fatalf("GetPackage error: %v", err)
	}

	manifest, err := client.ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest error: %v", err)
	}
	if manifest.Name != "hl7.fhir.us.core" {
		t.Errorf("manifest.Name = %q", manifest.Name)
	}

	sdPath := filepath.Join(path, "package", "StructureDefinition-us-core-patient.json")
	if _, err := os.Stat(sdPath); err != nil {
		t.Errorf("extracted resource missing: %v", err)
	}
}

func TestGetPackageUsesCache(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(t, "hl7.fhir.us.core", "6.1.0", nil, nil)
	srv := reg.server(t)
	client := newTestClient(t, srv)

	first, err := client.GetPackage(context.Background(), "hl7.fhir.us.core", "6.1.0")
	if err != nil {
		t.Fatalf("first GetPackage error: %v", err)
	}

	// Point the client at a dead server; the cached package must still
	// be returned without any HTTP traffic.
	srv.Close()
	second, err := client.GetPackage(context.Background(), "hl7.fhir.us.core", "6.1.0")
	if err != nil {
		t.Fatalf("cached GetPackage error: %v", err)
	}
	if first != second {
		t.Errorf("cache paths differ: %q vs %q", first, second)
	}
}

func TestListCachedPackages(t *testing.T) {
	cacheDir := t.TempDir()
	client := NewClient(WithCacheDir(cacheDir))

	packages, err := client.ListCachedPackages()
	if err != nil {
		t.Fatalf("ListCachedPackages error: %v", err)
	}
	if len(packages) != 0 {
		t.Errorf("expected empty cache, got %v", packages)
	}

	for _, dir := range []string{"hl7.fhir.r4.core#4.0.1", "hl7.fhir.us.core#6.1.0"} {
		if err := os.MkdirAll(filepath.Join(cacheDir, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	packages, err = client.ListCachedPackages()
	if err != nil {
		t.Fatalf("ListCachedPackages error: %v", err)
	}
	if len(packages) != 2 {
		t.Errorf("ListCachedPackages() = %v, want 2 entries", packages)
	}
}

func TestExtractTarGzRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	content := "malicious"
	hdr := &tar.Header{
		Name:     "../escape.txt",
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gzw.Close()

	dest := t.TempDir()
	if err := extractTarGz(&buf, dest); err == nil {
		t.Error("expected error for path traversal entry")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); err == nil {
		t.Error("traversal file was written outside destination")
	}
}

func TestPackagePathLayout(t *testing.T) {
	client := NewClient(WithCacheDir("/tmp/fhir-cache"))
	got := client.packagePath("hl7.fhir.r4.core", "4.0.1")
	want := fmt.Sprintf("/tmp/fhir-cache/%s", "hl7.fhir.r4.core#4.0.1")
	if got != filepath.FromSlash(want) {
		t.Errorf("packagePath = %q, want %q", got, want)
	}
}
