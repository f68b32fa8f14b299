// Package registry provides a client for the FHIR package registry.
//
// The registry (https://packages.fhir.org) hosts implementation-guide
// packages and core specification packages as npm-style tarballs. The
// client downloads packages into the standard local cache and resolves
// the dependency closure of an implementation guide.
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofhir/igvalidator/pkg/logger"
)

const (
	// DefaultRegistryURL is the primary FHIR package registry.
	DefaultRegistryURL = "https://packages.fhir.org"

	// DefaultTimeout for HTTP requests.
	DefaultTimeout = 30 * time.Second

	// DefaultCacheDir is the default location for cached packages,
	// relative to the user's home directory.
	DefaultCacheDir = ".fhir/packages"

	// VersionLatest is the "latest" dist-tag.
	VersionLatest = "latest"
)

// Client is a FHIR package registry client.
type Client struct {
	httpClient  *http.Client
	registryURL string
	cacheDir    string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithRegistryURL sets a custom registry URL.
func WithRegistryURL(url string) ClientOption {
	return func(c *Client) {
		c.registryURL = strings.TrimRight(url, "/")
	}
}

// WithCacheDir sets a custom cache directory.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) {
		c.cacheDir = dir
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new registry client.
func NewClient(opts ...ClientOption) *Client {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		registryURL: DefaultRegistryURL,
		cacheDir:    filepath.Join(homeDir, DefaultCacheDir),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// PackageInfo contains registry metadata about a package version.
type PackageInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	FHIRVersion string `json:"fhirVersion"`
	URL         string `json:"url"`
	Canonical   string `json:"canonical"`
}

// PackageManifest is the package.json inside a FHIR package.
type PackageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	FHIRVersions []string          `json:"fhirVersions"`
	Dependencies map[string]string `json:"dependencies"`
	Canonical    string            `json:"canonical"`
	URL          string            `json:"url"`
	Title        string            `json:"title"`
	Type         string            `json:"type"`
}

// packageMetadata is the npm-style document the registry serves per package.
type packageMetadata struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	DistTags    map[string]string `json:"dist-tags"`
	Versions    map[string]struct {
		Version     string `json:"version"`
		FHIRVersion string `json:"fhirVersion"`
		URL         string `json:"url"`
		Canonical   string `json:"canonical"`
		Dist        struct {
			Tarball string `json:"tarball"`
		} `json:"dist"`
	} `json:"versions"`
}

func (c *Client) fetchMetadata(ctx context.Context, name string) (*packageMetadata, error) {
	url := fmt.Sprintf("%s/%s", c.registryURL, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package not found: %s (status %d)", name, resp.StatusCode)
	}

	var meta packageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode package metadata: %w", err)
	}
	return &meta, nil
}

// GetPackageInfo retrieves metadata about a package version. Version
// "latest" or "" resolves through the registry's dist-tags.
func (c *Client) GetPackageInfo(ctx context.Context, name, version string) (*PackageInfo, error) {
	meta, err := c.fetchMetadata(ctx, name)
	if err != nil {
		return nil, err
	}

	resolved := version
	if version == VersionLatest || version == "" {
		latest, ok := meta.DistTags[VersionLatest]
		if !ok {
			return nil, fmt.Errorf("no latest version found for package %s", name)
		}
		resolved = latest
	}

	versionInfo, ok := meta.Versions[resolved]
	if !ok {
		return nil, fmt.Errorf("version %s not found for package %s", resolved, name)
	}

	return &PackageInfo{
		Name:        meta.Name,
		Version:     resolved,
		Description: meta.Description,
		FHIRVersion: versionInfo.FHIRVersion,
		URL:         versionInfo.URL,
		Canonical:   versionInfo.Canonical,
	}, nil
}

// GetPackage ensures a package is available in the local cache,
// downloading and extracting it if needed, and returns its path.
func (c *Client) GetPackage(ctx context.Context, name, version string) (string, error) {
	if version == VersionLatest || version == "" {
		info, err := c.GetPackageInfo(ctx, name, VersionLatest)
		if err != nil {
			return "", err
		}
		version = info.Version
	}

	packageDir := c.packagePath(name, version)
	if c.isPackageCached(packageDir) {
		logger.Debug("package %s#%s found in cache", name, version)
		return packageDir, nil
	}

	return c.downloadPackage(ctx, name, version, packageDir)
}

func (c *Client) downloadPackage(ctx context.Context, name, version, packageDir string) (string, error) {
	tarballURL, err := c.tarballURL(ctx, name, version)
	if err != nil {
		return "", fmt.Errorf("failed to resolve tarball URL: %w", err)
	}

	logger.Info("downloading package %s#%s", name, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download package: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download package %s#%s: status %d", name, version, resp.StatusCode)
	}

	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := extractTarGz(resp.Body, packageDir); err != nil {
		os.RemoveAll(packageDir)
		return "", fmt.Errorf("failed to extract package: %w", err)
	}

	return packageDir, nil
}

func (c *Client) tarballURL(ctx context.Context, name, version string) (string, error) {
	meta, err := c.fetchMetadata(ctx, name)
	if err != nil {
		return "", err
	}

	versionInfo, ok := meta.Versions[version]
	if !ok {
		return "", fmt.Errorf("version %s not found for package %s", version, name)
	}

	if versionInfo.Dist.Tarball != "" {
		return versionInfo.Dist.Tarball, nil
	}
	if versionInfo.URL != "" {
		return versionInfo.URL, nil
	}
	return "", fmt.Errorf("no download URL found for %s#%s", name, version)
}

// ReadManifest reads the package.json from an extracted package.
func (c *Client) ReadManifest(packageDir string) (*PackageManifest, error) {
	manifestPath := filepath.Join(packageDir, "package", "package.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		manifestPath = filepath.Join(packageDir, "package.json")
		data, err = os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read package.json: %w", err)
		}
	}

	var manifest PackageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &manifest, nil
}

// ListCachedPackages returns the names of all packages in the cache,
// in "name#version" form.
func (c *Client) ListCachedPackages() ([]string, error) {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var packages []string
	for _, entry := range entries {
		if entry.IsDir() {
			packages = append(packages, entry.Name())
		}
	}
	return packages, nil
}

// ClearCache removes all cached packages.
func (c *Client) ClearCache() error {
	return os.RemoveAll(c.cacheDir)
}

// CacheDir returns the cache directory path.
func (c *Client) CacheDir() string {
	return c.cacheDir
}

// packagePath returns the local cache path for a package version.
func (c *Client) packagePath(name, version string) string {
	safeName := strings.ReplaceAll(name, "/", "-")
	return filepath.Join(c.cacheDir, fmt.Sprintf("%s#%s", safeName, version))
}

// isPackageCached checks for the package.json marker of a fully
// extracted package.
func (c *Client) isPackageCached(packageDir string) bool {
	manifestPath := filepath.Join(packageDir, "package", "package.json")
	if _, err := os.Stat(manifestPath); err == nil {
		return true
	}
	manifestPath = filepath.Join(packageDir, "package.json")
	_, err := os.Stat(manifestPath)
	return err == nil
}

// extractTarGz extracts a tar.gz archive to a directory.
func extractTarGz(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		// Sanitize path to prevent directory traversal
		target := filepath.Join(destDir, header.Name) //nolint:gosec // G305: Path is validated below
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}

			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}

			// Limit file size to prevent decompression bombs (100MB max per file)
			const maxFileSize = 100 * 1024 * 1024
			if _, err := io.Copy(f, io.LimitReader(tr, maxFileSize)); err != nil {
				f.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			f.Close()
		}
	}

	return nil
}
