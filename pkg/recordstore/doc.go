// Package recordstore provides the record-store client contract consumed
// by the descriptor and bootstrap packages, along with a SQLite-backed
// local mirror implementation.
package recordstore
