package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// GalleryIndexMetadata stores metadata for validating a persisted index.
type GalleryIndexMetadata struct {
	FaceCount int64     `json:"face_count"`
	MaxFaceID int64     `json:"max_face_id"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const galleryMetadataVersion = 1

// Matches reports whether a persisted index describes the given stored
// faces. Face IDs only grow, so a re-enrollment that keeps the count still
// raises the highest ID.
func (m GalleryIndexMetadata) Matches(faceCount, maxFaceID int64) bool {
	return m.FaceCount == faceCount && m.MaxFaceID == maxFaceID
}

// GalleryIndex is an in-memory HNSW graph over enrolled face embeddings.
type GalleryIndex struct {
	graph *hnsw.Graph[int64]
	faces map[int64]*FaceEmbedding
	mu    sync.RWMutex
}

// NewGalleryIndex creates an empty index.
func NewGalleryIndex() *GalleryIndex {
	return &GalleryIndex{faces: make(map[int64]*FaceEmbedding)}
}

func newFaceGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given faces.
func (g *GalleryIndex) Build(faces []FaceEmbedding) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.graph = newFaceGraph()
	g.faces = make(map[int64]*FaceEmbedding, len(faces))
	for i := range faces {
		f := &faces[i]
		if len(f.Embedding) == 0 {
			continue
		}
		g.graph.Add(hnsw.MakeNode(f.ID, f.Embedding))
		g.faces[f.ID] = f
	}
}

// Add inserts faces into the index.
func (g *GalleryIndex) Add(faces ...FaceEmbedding) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.graph == nil {
		g.graph = newFaceGraph()
	}
	for i := range faces {
		f := faces[i]
		if len(f.Embedding) == 0 {
			continue
		}
		g.graph.Add(hnsw.MakeNode(f.ID, f.Embedding))
		g.faces[f.ID] = &f
	}
}

// RemoveEmployee drops every face of an employee from the index.
func (g *GalleryIndex) RemoveEmployee(employeeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, f := range g.faces {
		if f.EmployeeID != employeeID {
			continue
		}
		if g.graph != nil {
			g.graph.Delete(id)
		}
		delete(g.faces, id)
	}
}

// Search returns up to k faces nearest to query, closest first.
func (g *GalleryIndex) Search(query []float32, k int) ([]GalleryMatch, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if g.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	neighbors := g.graph.Search(query, k)
	matches := make([]GalleryMatch, 0, len(neighbors))
	for _, n := range neighbors {
		face, ok := g.faces[n.Key]
		if !ok {
			continue
		}
		matches = append(matches, GalleryMatch{
			Face:     *face,
			Distance: CosineDistance(query, n.Value),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}

// Count returns the number of indexed faces.
func (g *GalleryIndex) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.faces)
}

// Metadata describes the current contents for staleness checks.
func (g *GalleryIndex) Metadata() GalleryIndexMetadata {
	g.mu.RLock()
	defer g.mu.RUnlock()

	meta := GalleryIndexMetadata{FaceCount: int64(len(g.faces)), Version: galleryMetadataVersion}
	for id := range g.faces {
		meta.MaxFaceID = max(meta.MaxFaceID, id)
	}
	return meta
}

// Save writes the graph to path, face metadata to path.faces and
// index metadata to path.meta.
func (g *GalleryIndex) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph == nil || len(g.faces) == 0 {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".faces")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("create gallery index file: %w", err)
	}
	if err := g.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("export gallery graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close gallery index file: %w", err)
	}

	faces := make([]FaceEmbedding, 0, len(g.faces))
	meta := GalleryIndexMetadata{BuildTime: time.Now(), Version: galleryMetadataVersion}
	for id, face := range g.faces {
		faces = append(faces, *face)
		meta.MaxFaceID = max(meta.MaxFaceID, id)
	}
	meta.FaceCount = int64(len(faces))

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(faces); err != nil {
		return fmt.Errorf("encode faces: %w", err)
	}
	if err := os.WriteFile(path+".faces", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write faces file: %w", err)
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}
	return nil
}

// LoadGalleryMetadata reads path.meta.
func LoadGalleryMetadata(path string) (GalleryIndexMetadata, error) {
	var meta GalleryIndexMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

// LoadGalleryIndex restores an index written by Save.
func LoadGalleryIndex(path string) (*GalleryIndex, error) {
	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return nil, fmt.Errorf("load gallery graph: %w", err)
	}

	data, err := os.ReadFile(path + ".faces") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("read faces file: %w", err)
	}
	var faces []FaceEmbedding
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&faces); err != nil {
		return nil, fmt.Errorf("decode faces: %w", err)
	}

	g := &GalleryIndex{
		graph: saved.Graph,
		faces: make(map[int64]*FaceEmbedding, len(faces)),
	}
	g.graph.Distance = hnsw.CosineDistance
	for i := range faces {
		g.faces[faces[i].ID] = &faces[i]
	}
	return g, nil
}
