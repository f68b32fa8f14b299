// Package validator provides the validation orchestrator: it constructs
// a fully configured validation engine for an implementation guide and
// exposes validation, profile registration, and IG discovery.
package validator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	igvalidator "github.com/gofhir/igvalidator"
	"github.com/gofhir/igvalidator/engine"
	"github.com/gofhir/igvalidator/format"
	"github.com/gofhir/igvalidator/profile"
	"github.com/gofhir/igvalidator/registry"
	"github.com/gofhir/igvalidator/terminology"
)

// TxServerEnv is the environment variable overriding the terminology
// server endpoint.
const TxServerEnv = "TX_SERVER_URL"

// Config holds the orchestrator configuration.
type Config struct {
	// TxEndpoint is the terminology server base URL.
	TxEndpoint string

	// CacheDir overrides the package cache location.
	CacheDir string

	// RegistryURL overrides the package registry.
	RegistryURL string

	// HTTPClient overrides the HTTP client used for registry access.
	HTTPClient *http.Client
}

// Option configures the orchestrator.
type Option func(*Config)

// WithTxEndpoint sets the terminology server endpoint.
func WithTxEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.TxEndpoint = endpoint
	}
}

// WithCacheDir sets the package cache directory.
func WithCacheDir(dir string) Option {
	return func(c *Config) {
		c.CacheDir = dir
	}
}

// WithRegistryURL sets the package registry URL.
func WithRegistryURL(url string) Option {
	return func(c *Config) {
		c.RegistryURL = url
	}
}

// WithHTTPClient sets the HTTP client for registry access.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// Validator validates FHIR resources against an implementation guide.
// Construction is all-or-nothing: New returns a usable validator or an
// error, never a partially initialized instance.
type Validator struct {
	engine *engine.Engine
	config Config

	pmMu sync.Mutex
	pm   *registry.Client
}

// New builds a validator for the given implementation guide, in
// "name#version" form. It loads the pinned base specification, the
// guide and its dependencies, and connects the terminology server; any
// failure aborts construction.
func New(ctx context.Context, igID string, opts ...Option) (*Validator, error) {
	cfg := Config{
		TxEndpoint: txServerURL(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	eng, err := engine.New(ctx, igvalidator.BaseSpecPackage(), newRegistryClient(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize validation engine: %w", err)
	}

	if err := eng.LoadIG(ctx, igID, true); err != nil {
		return nil, fmt.Errorf("failed to load implementation guide %s: %w", igID, err)
	}

	if err := eng.ConnectToTxServer(ctx, cfg.TxEndpoint, igvalidator.PublicationVersion()); err != nil {
		return nil, err
	}

	eng.SetNative(false)
	eng.SetAnyExtensionsAllowed(true)

	if err := eng.Prepare(); err != nil {
		return nil, fmt.Errorf("failed to prepare validation engine: %w", err)
	}

	return &Validator{engine: eng, config: cfg}, nil
}

func newRegistryClient(cfg Config) *registry.Client {
	var opts []registry.ClientOption
	if cfg.RegistryURL != "" {
		opts = append(opts, registry.WithRegistryURL(cfg.RegistryURL))
	}
	if cfg.CacheDir != "" {
		opts = append(opts, registry.WithCacheDir(cfg.CacheDir))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, registry.WithHTTPClient(cfg.HTTPClient))
	}
	return registry.NewClient(opts...)
}

func txServerURL() string {
	if endpoint := os.Getenv(TxServerEnv); endpoint != "" {
		return endpoint
	}
	return terminology.DefaultEndpoint
}

// Validate validates a JSON resource against the given profile URLs.
// An empty profile list validates against the base specification only.
// The error reports that validation could not be performed; findings
// about the resource are issues on the outcome.
func (v *Validator) Validate(ctx context.Context, resource []byte, profileURLs []string) (*igvalidator.Outcome, error) {
	return v.engine.Validate(ctx, resource, format.JSON, profileURLs)
}

// GetResources returns the resource type names the validator can
// validate. The view is live: profiles registered after construction
// are reflected immediately.
func (v *Validator) GetResources() []string {
	return v.engine.ResourceNames()
}

// GetStructures returns the canonical URLs of all loaded structure
// definitions. The view is live, like GetResources.
func (v *Validator) GetStructures() []string {
	return v.engine.StructureURLs()
}

// LoadProfile registers a structure definition with the running
// validator. A definition with an already registered URL replaces the
// previous one.
func (v *Validator) LoadProfile(sd *profile.StructureDefinition) error {
	return v.engine.RegisterProfile(sd)
}

// LoadProfileFromFile reads, parses, and registers a profile from a
// JSON or XML file. I/O errors and parse errors are distinguishable
// via errors.Is(err, fs.ErrNotExist) and errors.As with
// *format.ParseError. A failed parse leaves the validator unchanged.
func (v *Validator) LoadProfileFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile file: %w", err)
	}

	sd, err := format.ParseStructureDefinition(data)
	if err != nil {
		return fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}

	return v.engine.RegisterProfile(sd)
}

// GetKnownIGs fetches the implementation guides published in the
// package registry. The package-manager handle is created lazily on
// first use and reused afterwards; a fetch failure is returned as an
// error and retried on the next call.
func (v *Validator) GetKnownIGs(ctx context.Context) ([]registry.CatalogEntry, error) {
	return v.packageManager().Catalog(ctx)
}

func (v *Validator) packageManager() *registry.Client {
	v.pmMu.Lock()
	defer v.pmMu.Unlock()

	if v.pm == nil {
		v.pm = newRegistryClient(v.config)
	}
	return v.pm
}
