// Package descriptor locates, versions and caches toolkit bundles.
//
// A bundle's location is a flat string map (Spec) with a canonical URI
// form. The factory turns a spec into a Transport for its type: app
// store, git tag or branch, plain path, dev path, uploaded attachment,
// or a manually cached payload. Downloads land in a shared bundle cache
// through an atomic temp-then-rename protocol so concurrent processes
// never observe partial payloads.
package descriptor
