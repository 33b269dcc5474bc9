// Package benchutil provides reproducible synthetic key/value data for CDB
// tests and benchmarks.
package benchutil

import (
	"fmt"
	"math/rand"
)

// Record is a synthetic (key, value) pair to append to a database.
type Record struct {
	Key   []byte
	Value []byte
}

// GeneratorConfig configures synthetic record generation.
type GeneratorConfig struct {
	// NumRecords is the total number of records to generate.
	NumRecords int
	// MinValueSize and MaxValueSize bound each value's length in bytes.
	MinValueSize int
	MaxValueSize int
	// DuplicateKeyFraction, in [0,1), is the approximate fraction of
	// records that reuse a previously generated key, producing a
	// multi-valued key in the resulting database.
	DuplicateKeyFraction float64
	// Seed makes generation reproducible. 0 selects a default seed.
	Seed int64
}

// DefaultConfig returns a reasonable default configuration: unique keys,
// small values, deterministic across runs.
func DefaultConfig(numRecords int) GeneratorConfig {
	return GeneratorConfig{
		NumRecords:   numRecords,
		MinValueSize: 8,
		MaxValueSize: 256,
		Seed:         42,
	}
}

// Generator produces synthetic records.
type Generator struct {
	cfg  GeneratorConfig
	rng  *rand.Rand
	keys []string
}

// NewGenerator creates a new data generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = 42
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Generate returns NumRecords synthetic records in append order.
func (g *Generator) Generate() []Record {
	records := make([]Record, g.cfg.NumRecords)
	for i := range records {
		records[i] = g.generateRecord()
	}
	return records
}

func (g *Generator) generateRecord() Record {
	key := g.pickKey()
	return Record{
		Key:   []byte(key),
		Value: g.generateValue(),
	}
}

func (g *Generator) pickKey() string {
	if len(g.keys) > 0 && g.cfg.DuplicateKeyFraction > 0 && g.rng.Float64() < g.cfg.DuplicateKeyFraction {
		return g.keys[g.rng.Intn(len(g.keys))]
	}
	key := fmt.Sprintf("key-%08x-%d", g.rng.Uint32(), len(g.keys))
	g.keys = append(g.keys, key)
	return key
}

func (g *Generator) generateValue() []byte {
	span := g.cfg.MaxValueSize - g.cfg.MinValueSize
	size := g.cfg.MinValueSize
	if span > 0 {
		size += g.rng.Intn(span + 1)
	}
	value := make([]byte, size)
	g.rng.Read(value)
	return value
}

// SequentialPairs returns n distinct ("key-i", "value-i") pairs, useful for
// tests that need to assert exact recall of every appended key.
func SequentialPairs(n int) []Record {
	records := make([]Record, n)
	for i := 0; i < n; i++ {
		records[i] = Record{
			Key:   []byte(fmt.Sprintf("key-%d", i)),
			Value: []byte(fmt.Sprintf("value-%d", i)),
		}
	}
	return records
}
