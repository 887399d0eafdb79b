package core

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Default tag values applied when no contributing source supplies a tag.
const (
	DefaultDomain      = "General"
	DefaultCriticality = "Unknown"
)

// SourceRecord is one raw row read from a feed. It is never persisted.
type SourceRecord struct {
	Feed   string            // Feed identifier the record came from
	Line   int               // 1-based line or row number within the feed
	Fields map[string]string // Raw named fields as read from the feed
}

// Get returns the trimmed value of a field, or "" when absent.
func (r SourceRecord) Get(name string) string {
	return strings.TrimSpace(r.Fields[name])
}

// CanonicalEntity is the unit of consolidation, embedding and storage.
type CanonicalEntity struct {
	Key         string            // Normalized identifier, unique across the catalog
	DisplayName string            // First-seen original-cased identifier
	Fields      map[string]string // Scalar attributes, first writer wins
	Tags        map[string]string // Classification fields such as domain and criticality
	Rules       []string          // Accumulated free-text rules, exact-string deduplicated
	Provenance  []string          // Sorted set of contributing feed IDs
	Embedding   []float32         // Nil until the embedding pipeline succeeds
	TextHash    ID                // Fingerprint of the model and projected text the embedding was built from
	UpdatedAt   time.Time         // Time of the last successful write
}

// HasEmbedding reports whether the entity carries a usable vector.
func (e *CanonicalEntity) HasEmbedding() bool {
	return e != nil && len(e.Embedding) > 0
}

// Metadata flattens the entity into the filterable metadata subdocument
// stored alongside its vector. Tags win over scalar fields of the same name.
func (e *CanonicalEntity) Metadata() map[string]string {
	md := make(map[string]string, len(e.Fields)+len(e.Tags)+1)
	for k, v := range e.Fields {
		md[k] = v
	}
	for k, v := range e.Tags {
		md[k] = v
	}
	md[MetadataDisplayName] = e.DisplayName
	return md
}

// MetadataDisplayName is the metadata field holding the entity display name.
const MetadataDisplayName = "display_name"

// Metric is the distance function an index is built with.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotProduct"
)

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricCosine, MetricEuclidean, MetricDotProduct:
		return true
	}
	return false
}

func (m Metric) String() string {
	return string(m)
}

// IndexDescriptor names an ANN index and its build parameters.
type IndexDescriptor struct {
	Name           string `json:"name" toml:"name" yaml:"name"`
	Dimension      int    `json:"dimension" toml:"dimension" yaml:"dimension"`
	Metric         Metric `json:"metric" toml:"metric" yaml:"metric"`
	M              int    `json:"m" toml:"m" yaml:"m"`                                        // Graph degree
	EFConstruction int    `json:"efConstruction" toml:"ef_construction" yaml:"ef_construction"` // Construction width
	EFSearch       int    `json:"efSearch" toml:"ef_search" yaml:"ef_search"`                 // Default search width
}

// Default ANN tuning parameters.
const (
	DefaultM              = 16
	DefaultEFConstruction = 200
	DefaultEFSearch       = 64
)

// WithDefaults returns a copy with zero tuning parameters filled in.
func (d IndexDescriptor) WithDefaults() IndexDescriptor {
	if d.Metric == "" {
		d.Metric = MetricCosine
	}
	if d.M == 0 {
		d.M = DefaultM
	}
	if d.EFConstruction == 0 {
		d.EFConstruction = DefaultEFConstruction
	}
	if d.EFSearch == 0 {
		d.EFSearch = DefaultEFSearch
	}
	return d
}

// SameParameters reports whether two descriptors describe the same index
// build configuration. Name and EFSearch are query-time concerns and ignored.
func (d IndexDescriptor) SameParameters(other IndexDescriptor) bool {
	a, b := d.WithDefaults(), other.WithDefaults()
	return a.Dimension == b.Dimension &&
		a.Metric == b.Metric &&
		a.M == b.M &&
		a.EFConstruction == b.EFConstruction
}
