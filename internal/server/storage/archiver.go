// Package storage archives completed attachment files. The production
// backend is any S3-compatible object store; a filesystem backend covers
// development setups without one.
package storage

import (
	"context"
	"io"
)

// Archiver moves one completed attachment into durable storage under key.
type Archiver interface {
	Store(ctx context.Context, key string, body io.Reader, size int64) error
}

// ArchiveKey is the canonical object key for a case attachment.
func ArchiveKey(caseGUID, elementID string) string {
	return "cases/" + caseGUID + "/" + elementID
}
