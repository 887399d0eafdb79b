// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads run configuration for the catalog from TOML or YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/poiesic/attrcat/ai"
	"github.com/poiesic/attrcat/consolidate"
	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/embedding"
	"github.com/poiesic/attrcat/feed"
	"github.com/poiesic/attrcat/project"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv overrides embedding.api_key when set.
const APIKeyEnv = "ATTRCAT_EMBEDDING_API_KEY"

// ErrUnsupportedFormat is returned for a config file that is neither TOML nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the full run configuration.
type Config struct {
	Store         Store         `toml:"store" yaml:"store"`
	Embedding     Embedding     `toml:"embedding" yaml:"embedding"`
	Chat          Chat          `toml:"chat" yaml:"chat"`
	Index         Index         `toml:"index" yaml:"index"`
	Query         Query         `toml:"query" yaml:"query"`
	Upsert        Upsert        `toml:"upsert" yaml:"upsert"`
	Consolidation Consolidation `toml:"consolidation" yaml:"consolidation"`
	Projection    Projection    `toml:"projection" yaml:"projection"`
	Feeds         []Feed        `toml:"feeds" yaml:"feeds"`
}

// Store locates the document store.
type Store struct {
	Path     string `toml:"path" yaml:"path"`
	InMemory bool   `toml:"in_memory" yaml:"in_memory"`
}

// Embedding configures the provider and the embedding pipeline.
type Embedding struct {
	Host          string        `toml:"host" yaml:"host"`
	Model         string        `toml:"model" yaml:"model"`
	APIKey        string        `toml:"api_key" yaml:"api_key"`
	Dimensions    int           `toml:"dimensions" yaml:"dimensions"`
	PoolSize      int           `toml:"pool_size" yaml:"pool_size"`
	BatchSize     int           `toml:"batch_size" yaml:"batch_size"`
	MaxAttempts   int           `toml:"max_attempts" yaml:"max_attempts"`
	BaseDelay     time.Duration `toml:"base_delay" yaml:"base_delay"`
	MaxDelay      time.Duration `toml:"max_delay" yaml:"max_delay"`
	CallTimeout   time.Duration `toml:"call_timeout" yaml:"call_timeout"`
	RateLimit     float64       `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst     int           `toml:"rate_burst" yaml:"rate_burst"`
	MaxInputRunes int           `toml:"max_input_runes" yaml:"max_input_runes"`
	Reuse         *bool         `toml:"reuse" yaml:"reuse"`
}

// Chat configures answer generation. Answers are disabled without a model.
// The host defaults to the embedding host, and the embedding API key is used.
type Chat struct {
	Host        string  `toml:"host" yaml:"host"`
	Model       string  `toml:"model" yaml:"model"`
	Temperature float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens   int     `toml:"max_tokens" yaml:"max_tokens"`
}

// Index describes the ANN index. Dimension defaults to the embedding dimensions.
type Index struct {
	Name           string      `toml:"name" yaml:"name"`
	Dimension      int         `toml:"dimension" yaml:"dimension"`
	Metric         core.Metric `toml:"metric" yaml:"metric"`
	M              int         `toml:"m" yaml:"m"`
	EFConstruction int         `toml:"ef_construction" yaml:"ef_construction"`
	EFSearch       int         `toml:"ef_search" yaml:"ef_search"`
}

// Query holds query defaults.
type Query struct {
	K                int `toml:"k" yaml:"k"`
	Oversample       int `toml:"oversample" yaml:"oversample"`
	FilterOversample int `toml:"filter_oversample" yaml:"filter_oversample"`
}

// Upsert configures the upsert engine.
type Upsert struct {
	PoolSize int `toml:"pool_size" yaml:"pool_size"`
}

// Consolidation configures the consolidator.
type Consolidation struct {
	DefaultTags map[string]string `toml:"default_tags" yaml:"default_tags"`
}

// Projection configures the text layout.
type Projection struct {
	IdentityFields    []string `toml:"identity_fields" yaml:"identity_fields"`
	TagOrder          []string `toml:"tag_order" yaml:"tag_order"`
	DescriptionFields []string `toml:"description_fields" yaml:"description_fields"`
}

// Feed is one source feed, listed in precedence order.
type Feed struct {
	ID               string            `toml:"id" yaml:"id"`
	Path             string            `toml:"path" yaml:"path"`
	IdentifierFields []string          `toml:"identifier_fields" yaml:"identifier_fields"`
	Fields           map[string]string `toml:"fields" yaml:"fields"`
	Tags             map[string]string `toml:"tags" yaml:"tags"`
	Rules            []string          `toml:"rules" yaml:"rules"`
	RuleSeparator    string            `toml:"rule_separator" yaml:"rule_separator"`
	KeepUnmapped     bool              `toml:"keep_unmapped" yaml:"keep_unmapped"`
}

// Default returns a configuration for a local OpenAI-compatible embedding
// server and an on-disk store, with no feeds.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	backoff := embedding.DefaultBackoff()
	layout := project.DefaultLayout()
	return &Config{
		Store: Store{Path: "attrcat.db"},
		Embedding: Embedding{
			Host:        aiDefaults.EmbeddingHost,
			Model:       aiDefaults.EmbeddingModel,
			APIKey:      aiDefaults.APIKey,
			Dimensions:  aiDefaults.Dimensions,
			BatchSize:   1,
			MaxAttempts: backoff.MaxAttempts,
			BaseDelay:   backoff.BaseDelay,
			MaxDelay:    backoff.MaxDelay,
			CallTimeout: 30 * time.Second,
		},
		Chat: Chat{
			Temperature: aiDefaults.ChatTemperature,
			MaxTokens:   aiDefaults.ChatMaxTokens,
		},
		Index: Index{
			Name:   "attributes",
			Metric: core.MetricCosine,
		},
		Query: Query{K: 5},
		Consolidation: Consolidation{
			DefaultTags: map[string]string{
				"domain":      core.DefaultDomain,
				"criticality": core.DefaultCriticality,
			},
		},
		Projection: Projection{
			IdentityFields:    layout.IdentityFields,
			TagOrder:          layout.TagOrder,
			DescriptionFields: layout.DescriptionFields,
		},
	}
}

// Load reads the file at path over the defaults. The format is chosen by
// extension: .toml, or .yaml / .yml. Relative paths in the file are resolved
// against the file's directory. The API key may be overridden from the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, core.NewConfigurationError("load config", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, core.NewConfigurationError("load config", fmt.Errorf("%s: unknown keys %v", path, undecoded))
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, core.NewConfigurationError("load config", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, core.NewConfigurationError("load config", fmt.Errorf("%s: %w", path, err))
		}
	default:
		return nil, core.NewConfigurationError("load config", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path))
	}

	cfg.resolvePaths(filepath.Dir(path))
	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.Embedding.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	if c.Store.Path != "" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(dir, c.Store.Path)
	}
	for i := range c.Feeds {
		if c.Feeds[i].Path != "" && !filepath.IsAbs(c.Feeds[i].Path) {
			c.Feeds[i].Path = filepath.Join(dir, c.Feeds[i].Path)
		}
	}
}

// Validate checks the configuration. Every problem found is reported in one
// *core.ConfigurationError.
func (c *Config) Validate() error {
	var errs []error

	if !c.Store.InMemory && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required unless store.in_memory is set"))
	}
	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("embedding.max_attempts must be at least 1, got %d", c.Embedding.MaxAttempts))
	}
	if c.Embedding.BaseDelay < 0 || c.Embedding.MaxDelay < 0 || c.Embedding.CallTimeout < 0 {
		errs = append(errs, errors.New("embedding delays and timeouts must not be negative"))
	}
	if c.Chat.Temperature < 0 {
		errs = append(errs, errors.New("chat.temperature must not be negative"))
	}
	if c.Embedding.RateLimit < 0 {
		errs = append(errs, errors.New("embedding.rate_limit must not be negative"))
	}
	if err := core.ValidateIndexDescriptor(c.IndexDescriptor()); err != nil {
		errs = append(errs, err)
	}
	if d := c.IndexDescriptor().Dimension; d != c.Embedding.Dimensions {
		errs = append(errs, fmt.Errorf("%w: index.dimension %d differs from embedding.dimensions %d",
			core.ErrDimensionMismatch, d, c.Embedding.Dimensions))
	}
	if c.Query.K < 0 || c.Query.Oversample < 0 || c.Query.FilterOversample < 0 {
		errs = append(errs, errors.New("query settings must not be negative"))
	}

	ids := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		switch {
		case f.ID == "":
			errs = append(errs, fmt.Errorf("feeds[%d]: id is required", i))
		case ids[f.ID]:
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate id %q", i, f.ID))
		}
		ids[f.ID] = true
		if f.Path == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: path is required", i))
		} else if _, _, err := feed.DetectFormat(f.Path); err != nil {
			errs = append(errs, fmt.Errorf("feeds[%d]: %w", i, err))
		}
		if len(f.IdentifierFields) == 0 {
			errs = append(errs, fmt.Errorf("feeds[%d]: identifier_fields is required", i))
		}
	}

	if len(errs) > 0 {
		return core.NewConfigurationError("validate config", errors.Join(errs...))
	}
	return nil
}

// AIConfig returns the provider configuration for embeddings and answers.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithDimensions(c.Embedding.Dimensions),
		ai.WithChatHost(c.Chat.Host),
		ai.WithChatModel(c.Chat.Model),
		ai.WithChatTemperature(c.Chat.Temperature),
		ai.WithChatMaxTokens(c.Chat.MaxTokens),
	)
}

// Backoff returns the retry schedule for transient provider failures.
func (c *Config) Backoff() embedding.Backoff {
	b := embedding.DefaultBackoff()
	b.MaxAttempts = c.Embedding.MaxAttempts
	b.BaseDelay = c.Embedding.BaseDelay
	b.MaxDelay = c.Embedding.MaxDelay
	return b
}

// ReuseEmbeddings reports whether stored vectors of unchanged texts are reused.
// Default is true.
func (c *Config) ReuseEmbeddings() bool {
	return c.Embedding.Reuse == nil || *c.Embedding.Reuse
}

// IndexDescriptor returns the index descriptor with defaults applied.
func (c *Config) IndexDescriptor() core.IndexDescriptor {
	d := core.IndexDescriptor{
		Name:           c.Index.Name,
		Dimension:      c.Index.Dimension,
		Metric:         c.Index.Metric,
		M:              c.Index.M,
		EFConstruction: c.Index.EFConstruction,
		EFSearch:       c.Index.EFSearch,
	}
	if d.Dimension == 0 {
		d.Dimension = c.Embedding.Dimensions
	}
	return d.WithDefaults()
}

// Layout returns the projection layout.
func (c *Config) Layout() project.Layout {
	return project.Layout{
		IdentityFields:    c.Projection.IdentityFields,
		TagOrder:          c.Projection.TagOrder,
		DescriptionFields: c.Projection.DescriptionFields,
	}
}

// Sources returns the feeds in precedence order.
func (c *Config) Sources() []feed.Source {
	out := make([]feed.Source, len(c.Feeds))
	for i, f := range c.Feeds {
		out[i] = feed.Source{
			Path: f.Path,
			Spec: consolidate.FeedSpec{
				ID:               f.ID,
				IdentifierFields: f.IdentifierFields,
				Fields:           f.Fields,
				Tags:             f.Tags,
				Rules:            f.Rules,
				RuleSeparator:    f.RuleSeparator,
				KeepUnmapped:     f.KeepUnmapped,
			},
		}
	}
	return out
}
