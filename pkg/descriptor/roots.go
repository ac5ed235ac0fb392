package descriptor

import "path/filepath"

// CacheRoots is the ordered set of bundle-cache locations a transport
// searches and writes. The primary root is the only writable location; the
// fallback roots are read-only search locations (typically shared network
// storage pre-seeded with common bundles).
type CacheRoots struct {
	// Primary is the writable cache root where new downloads land.
	Primary string

	// Fallbacks are read-only roots searched in order.
	Fallbacks []string
}

// SearchOrder returns the roots in lookup order. Cached (downloadable)
// artifacts check the fallbacks before the primary so a shared read-only
// copy wins over triggering a redundant local download. Path descriptors
// never consult the roots at all, so the asymmetry only affects cached
// artifact types.
func (r CacheRoots) SearchOrder() []string {
	order := make([]string, 0, len(r.Fallbacks)+1)
	order = append(order, r.Fallbacks...)
	return append(order, r.Primary)
}

// TempRoot returns the staging area for in-flight downloads under the
// primary root.
func (r CacheRoots) TempRoot() string {
	return filepath.Join(r.Primary, "tmp")
}
