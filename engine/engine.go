// Package engine implements the validation engine driven by the
// orchestrator: it loads structure definitions from specification and
// implementation-guide packages, holds the terminology connection, and
// validates resources.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofhir/igvalidator/format"
	"github.com/gofhir/igvalidator/pkg/logger"
	"github.com/gofhir/igvalidator/profile"
	"github.com/gofhir/igvalidator/registry"
	"github.com/gofhir/igvalidator/terminology"
)

// ErrAlreadyPrepared is returned when Prepare is called more than once.
var ErrAlreadyPrepared = errors.New("engine already prepared")

// Engine validates resources against loaded structure definitions.
// Configuration methods (LoadIG, ConnectToTxServer, SetNative,
// SetAnyExtensionsAllowed) are called during construction, then Prepare
// freezes the configuration; only then may Validate be called.
type Engine struct {
	client   *registry.Client
	profiles *profile.Registry
	tx       terminology.Provider

	specPackage string
	igID        string

	mu            sync.Mutex
	native        bool
	anyExtensions bool
	prepared      bool

	evaluator *evaluator
	idxCache  sync.Map // map[*profile.StructureDefinition]*elementIndex
}

// New creates an engine and loads the base specification package,
// given in "name#version" form.
func New(ctx context.Context, baseSpecPackage string, client *registry.Client) (*Engine, error) {
	ref, err := registry.ParseRef(baseSpecPackage)
	if err != nil {
		return nil, fmt.Errorf("invalid base spec package: %w", err)
	}

	e := &Engine{
		client:      client,
		profiles:    profile.NewRegistry(),
		specPackage: baseSpecPackage,
		evaluator:   newEvaluator(),
	}

	start := time.Now()
	path, err := client.GetPackage(ctx, ref.Name, ref.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to get base spec package %s: %w", ref, err)
	}

	count, err := e.loadPackageDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load base spec package %s: %w", ref, err)
	}

	logger.Info("loaded %d definitions from %s in %v", count, ref, time.Since(start))
	return e, nil
}

// LoadIG loads an implementation-guide package into the engine. With
// recurse set, the package's full dependency closure is loaded too.
// Any package that cannot be fetched fails the load.
func (e *Engine) LoadIG(ctx context.Context, igID string, recurse bool) error {
	ref, err := registry.ParseRef(igID)
	if err != nil {
		return fmt.Errorf("invalid implementation guide id: %w", err)
	}

	resolver := registry.NewResolver(e.client)

	var paths []string
	if recurse {
		paths, err = resolver.ResolveWithDependencies(ctx, ref)
	} else {
		var path string
		path, err = resolver.Resolve(ctx, ref)
		paths = []string{path}
	}
	if err != nil {
		return fmt.Errorf("failed to resolve implementation guide %s: %w", ref, err)
	}

	total := 0
	for _, path := range paths {
		count, err := e.loadPackageDir(path)
		if err != nil {
			return fmt.Errorf("failed to load package at %s: %w", path, err)
		}
		total += count
	}

	e.igID = igID
	logger.Info("loaded implementation guide %s: %d definitions from %d packages", igID, total, len(paths))
	return nil
}

// loadPackageDir loads all structure definitions from an extracted
// package directory. Files that fail to parse are skipped; FHIR
// packages carry resources of many other types.
func (e *Engine) loadPackageDir(path string) (int, error) {
	pattern := filepath.Join(path, "package", "StructureDefinition-*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to list package contents: %w", err)
	}

	count := 0
	for _, file := range files {
		sd, err := loadDefinitionFile(file)
		if err != nil {
			logger.Debug("skipping %s: %v", filepath.Base(file), err)
			continue
		}
		if err := e.profiles.Put(sd); err != nil {
			logger.Debug("skipping %s: %v", filepath.Base(file), err)
			continue
		}
		count++
	}
	return count, nil
}

// ConnectToTxServer connects the engine to a terminology server,
// verifying its capability statement against the given FHIR version.
func (e *Engine) ConnectToTxServer(ctx context.Context, endpoint, fhirVersion string) error {
	client, err := terminology.Connect(ctx, endpoint, fhirVersion)
	if err != nil {
		return fmt.Errorf("failed to connect to terminology server: %w", err)
	}
	e.tx = client
	return nil
}

// SetTerminologyProvider sets the terminology provider directly,
// bypassing ConnectToTxServer.
func (e *Engine) SetTerminologyProvider(p terminology.Provider) {
	e.tx = p
}

// SetNative records whether native schema validation was requested.
// The engine validates against structure definitions only; the flag is
// reported by Native.
func (e *Engine) SetNative(native bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.native = native
}

// Native reports whether native schema validation was requested.
func (e *Engine) Native() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.native
}

// SetAnyExtensionsAllowed controls how extensions with unknown URLs are
// reported: as warnings when allowed, as errors otherwise.
func (e *Engine) SetAnyExtensionsAllowed(allowed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anyExtensions = allowed
}

// Prepare finalizes the engine configuration. It must be called exactly
// once, after loading and connecting; Validate fails until it has run.
func (e *Engine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.prepared {
		return ErrAlreadyPrepared
	}
	if e.profiles.Count() == 0 {
		return errors.New("no structure definitions loaded")
	}

	e.prepared = true
	logger.Info("engine prepared: %d definitions", e.profiles.Count())
	return nil
}

func (e *Engine) isPrepared() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prepared
}

// RegisterProfile adds a structure definition to the engine at runtime.
// Registration replaces any definition with the same canonical URL.
func (e *Engine) RegisterProfile(sd *profile.StructureDefinition) error {
	return e.profiles.Put(sd)
}

// ResourceNames returns the resource type names the engine can validate.
func (e *Engine) ResourceNames() []string {
	return e.profiles.ResourceNames()
}

// StructureURLs returns the canonical URLs of all loaded definitions.
func (e *Engine) StructureURLs() []string {
	return e.profiles.URLs()
}

// IGID returns the loaded implementation guide id.
func (e *Engine) IGID() string {
	return e.igID
}

func loadDefinitionFile(path string) (*profile.StructureDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return format.ParseStructureDefinition(data)
}
