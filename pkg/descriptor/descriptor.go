package descriptor

import (
	"context"
	"sync"
)

// Type is the domain tag of a descriptor: it governs which manifest fields
// are meaningful for the bundle behind it.
type Type string

const (
	TypeTagApp       Type = "app"
	TypeTagEngine    Type = "engine"
	TypeTagFramework Type = "framework"
	TypeTagCore      Type = "core"
	TypeTagConfig    Type = "config"
)

// Descriptor is the domain-typed wrapper around a Transport. It adds lazily
// loaded manifest metadata; everything else delegates.
//
// The manifest is memoized on first access. The memoization is idempotent
// under races: the result is pure given fixed local files, so recomputing
// is acceptable and sync.Once merely avoids redundant parses in-process.
type Descriptor struct {
	typ       Type
	transport Transport

	manifestOnce sync.Once
	manifest     *Manifest
	manifestErr  error
}

// NewDescriptor wraps a transport with a domain type tag.
func NewDescriptor(typ Type, transport Transport) *Descriptor {
	return &Descriptor{typ: typ, transport: transport}
}

// TypeTag returns the descriptor's domain type.
func (d *Descriptor) TypeTag() Type { return d.typ }

// Transport returns the underlying transport.
func (d *Descriptor) Transport() Transport { return d.transport }

// Spec returns the location specifier.
func (d *Descriptor) Spec() Spec { return d.transport.Spec() }

// SystemName delegates to the transport.
func (d *Descriptor) SystemName() string { return d.transport.SystemName() }

// Version delegates to the transport.
func (d *Descriptor) Version() string { return d.transport.Version() }

// IsImmutable delegates to the transport.
func (d *Descriptor) IsImmutable() bool { return d.transport.IsImmutable() }

// LocalPath delegates to the transport.
func (d *Descriptor) LocalPath() string { return d.transport.LocalPath() }

// EnsureLocal delegates to the transport.
func (d *Descriptor) EnsureLocal(ctx context.Context) (string, error) {
	return d.transport.EnsureLocal(ctx)
}

// HasRemoteAccess delegates to the transport.
func (d *Descriptor) HasRemoteAccess(ctx context.Context) bool {
	return d.transport.HasRemoteAccess(ctx)
}

// Copy materializes the artifact tree at target.
func (d *Descriptor) Copy(ctx context.Context, target string) error {
	return d.transport.Copy(ctx, target)
}

// String returns the descriptor URI.
func (d *Descriptor) String() string { return d.transport.Spec().URI() }

// Manifest returns the bundle metadata, fetching the payload on first
// access if it is not yet local.
func (d *Descriptor) Manifest(ctx context.Context) (*Manifest, error) {
	d.manifestOnce.Do(func() {
		path, err := d.transport.EnsureLocal(ctx)
		if err != nil {
			d.manifestErr = err
			return
		}
		d.manifest, d.manifestErr = loadManifest(path)
	})
	return d.manifest, d.manifestErr
}

// FindLatestVersion resolves the most recent available version and returns
// a new descriptor for it, preserving the domain type tag. The manifest
// memo is not carried over: the new version has its own metadata.
func (d *Descriptor) FindLatestVersion(ctx context.Context, constraint string) (*Descriptor, error) {
	latest, err := d.transport.LatestVersion(ctx, constraint)
	if err != nil {
		return nil, err
	}
	return NewDescriptor(d.typ, latest), nil
}

// FindLatestCachedVersion resolves the most recent locally cached version
// without network I/O. Returns (nil, nil) when nothing is cached.
func (d *Descriptor) FindLatestCachedVersion(constraint string) (*Descriptor, error) {
	latest, err := d.transport.LatestCachedVersion(constraint)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return NewDescriptor(d.typ, latest), nil
}
