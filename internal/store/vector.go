package store

import (
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex wraps a coder/hnsw graph with string-id mapping and atomic
// persistence. Deletions are lazy: the mapping entry is dropped and the
// graph node orphaned, which sidesteps graph-repair issues when removing
// nodes and is reclaimed on the next full rebuild.
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	dims    int
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// vectorHit is one nearest-neighbor result.
type vectorHit struct {
	ID       string
	Distance float32
}

// vectorMeta is the gob sidecar with the id maps.
type vectorMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &vectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts or replaces vectors. Vectors must already be validated to the
// index dimension.
func (v *vectorIndex) add(ids []string, vectors [][]float32) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, id := range ids {
		if oldKey, exists := v.idMap[id]; exists {
			delete(v.keyMap, oldKey)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		v.graph.Add(hnsw.MakeNode(key, vec))

		v.idMap[id] = key
		v.keyMap[key] = id
	}
}

// delete removes ids lazily.
func (v *vectorIndex) delete(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
}

// search returns up to k live neighbors ordered by ascending distance.
// Orphaned nodes are skipped, so it over-requests internally.
func (v *vectorIndex) search(query []float32, k int) []vectorHit {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 || k <= 0 {
		return nil
	}

	// Ask for extra results to compensate for lazily deleted orphans.
	want := k + (v.graph.Len() - len(v.idMap))
	nodes := v.graph.Search(query, want)

	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		id, live := v.keyMap[node.Key]
		if !live {
			continue
		}
		hits = append(hits, vectorHit{
			ID:       id,
			Distance: v.graph.Distance(query, node.Value),
		})
		if len(hits) == k {
			break
		}
	}
	return hits
}

func (v *vectorIndex) count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// save writes the graph and id maps atomically next to path.
func (v *vectorIndex) save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vector index file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("export vector graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	metaTmp := path + ".meta.tmp"
	metaFile, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("create vector meta file: %w", err)
	}
	meta := vectorMeta{IDMap: v.idMap, NextKey: v.nextKey, Dims: v.dims}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		_ = metaFile.Close()
		_ = os.Remove(metaTmp)
		return fmt.Errorf("encode vector meta: %w", err)
	}
	if err := metaFile.Close(); err != nil {
		_ = os.Remove(metaTmp)
		return err
	}
	return os.Rename(metaTmp, path+".meta")
}

// loadVectorIndex reads a saved index. Any failure returns an error; the
// caller rebuilds from the row table instead.
func loadVectorIndex(path string, dims int) (*vectorIndex, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, err
	}
	defer metaFile.Close()

	var meta vectorMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector meta: %w", err)
	}
	if meta.Dims != dims {
		return nil, ErrDimensionMismatch{Expected: dims, Got: meta.Dims}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	v := newVectorIndex(dims)
	if err := v.graph.Import(file); err != nil {
		return nil, fmt.Errorf("import vector graph: %w", err)
	}

	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}
	return v, nil
}
