package embed

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"

	"github.com/retoolsx/codebox/internal/config"
)

// diskCache persists query embeddings under the engine home, keyed by a
// hash of the model identifier. Every operation is opportunistic: read or
// write failures are swallowed, never surfaced.
type diskCache struct {
	dir string
}

func newDiskCache(modelFullName string) *diskCache {
	sum := sha256.Sum256([]byte(modelFullName))
	dir := filepath.Join(config.Home(), "cache", "embeddings", hex.EncodeToString(sum[:])[:16])
	return &diskCache{dir: dir}
}

func (d *diskCache) path(text string) string {
	sum := sha256.Sum256([]byte(text))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])[:32]+".vec")
}

func (d *diskCache) get(text string, dims int) ([]float32, bool) {
	data, err := os.ReadFile(d.path(text))
	if err != nil || len(data) != dims*4 {
		return nil, false
	}
	vec := make([]float32, dims)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, true
}

func (d *diskCache) put(text string, vec []float32) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return
	}
	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	tmp, err := os.CreateTemp(d.dir, "vec-*")
	if err != nil {
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return
	}
	_ = os.Rename(name, d.path(text))
}
