package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/igvalidator/pkg/logger"
)

// PackageRef identifies a package version.
type PackageRef struct {
	Name    string
	Version string
}

// String returns the reference as "name#version".
func (p PackageRef) String() string {
	if p.Version == "" || p.Version == VersionLatest {
		return p.Name
	}
	return fmt.Sprintf("%s#%s", p.Name, p.Version)
}

// ParseRef parses a "name#version" package spec. A bare name resolves
// to the latest version.
func ParseRef(spec string) (PackageRef, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return PackageRef{}, fmt.Errorf("empty package spec")
	}

	name, version, found := strings.Cut(spec, "#")
	if name == "" {
		return PackageRef{}, fmt.Errorf("invalid package spec: %s", spec)
	}
	if found && version == "" {
		return PackageRef{}, fmt.Errorf("invalid package spec: %s", spec)
	}
	if !found {
		version = VersionLatest
	}
	return PackageRef{Name: name, Version: version}, nil
}

// Resolver downloads a package together with its dependency closure.
type Resolver struct {
	client *Client
}

// NewResolver creates a new package resolver.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve ensures a single package is available locally and returns its
// extracted path.
func (r *Resolver) Resolve(ctx context.Context, ref PackageRef) (string, error) {
	path, err := r.client.GetPackage(ctx, ref.Name, ref.Version)
	if err != nil {
		return "", fmt.Errorf("failed to get package %s: %w", ref, err)
	}
	return path, nil
}

// ResolveWithDependencies ensures a package and its full dependency
// closure are available locally. It walks manifest dependencies
// breadth-first; any package that cannot be fetched fails the whole
// resolution. Returns the extracted paths, root package first.
func (r *Resolver) ResolveWithDependencies(ctx context.Context, ref PackageRef) ([]string, error) {
	var paths []string
	visited := make(map[string]bool)

	queue := []PackageRef{ref}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		path, err := r.Resolve(ctx, current)
		if err != nil {
			return nil, err
		}

		manifest, err := r.client.ReadManifest(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest of %s: %w", current, err)
		}

		// Mark under the manifest's own name so a "latest" request and
		// its resolved version count as one visit.
		key := manifest.Name + "#" + manifest.Version
		if visited[key] {
			continue
		}
		visited[key] = true
		paths = append(paths, path)

		for depName, depVersion := range manifest.Dependencies {
			dep := PackageRef{Name: depName, Version: depVersion}
			if visited[dep.Name+"#"+dep.Version] {
				continue
			}
			logger.Debug("resolving dependency %s of %s", dep, current)
			queue = append(queue, dep)
		}
	}

	return paths, nil
}
