package database

import (
	"context"
	"sync"
)

// GalleryRebuilder is implemented by gallery repositories backed by an in-memory index.
type GalleryRebuilder interface {
	// RebuildIndex reloads the in-memory HNSW index from storage
	RebuildIndex(ctx context.Context) error
	// IndexCount returns the number of faces in the in-memory index
	IndexCount() int
	// IsIndexEnabled returns whether searches go through the in-memory index
	IsIndexEnabled() bool
	// SaveIndex persists the index to disk (if a path is configured)
	SaveIndex() error
}

var (
	providerMu       sync.RWMutex
	galleryRebuilder GalleryRebuilder
)

// RegisterGalleryRebuilder registers the index rebuilder of the gallery repository.
func RegisterGalleryRebuilder(r GalleryRebuilder) {
	providerMu.Lock()
	defer providerMu.Unlock()
	galleryRebuilder = r
}

// GetGalleryRebuilder returns the registered rebuilder, or nil if not registered.
func GetGalleryRebuilder() GalleryRebuilder {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return galleryRebuilder
}
