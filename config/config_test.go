package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/attrcat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlConfig = `
[store]
path = "data/catalog"

[embedding]
host = "http://embed:8080"
model = "text-embedding-3-small"
dimensions = 1536
batch_size = 16
max_attempts = 5
base_delay = "250ms"
call_timeout = "10s"
rate_limit = 20.0
reuse = false

[chat]
model = "llama3.1"
max_tokens = 512

[index]
name = "attr_index"
metric = "cosine"
m = 32

[query]
k = 10

[[feeds]]
id = "crm"
path = "feeds/crm.csv"
identifier_fields = ["attribute_name", "name"]
rules = ["rule"]
rule_separator = ";"

[feeds.fields]
description = "description"

[feeds.tags]
business_domain = "domain"

[[feeds]]
id = "glossary"
path = "/srv/feeds/glossary.jsonl.gz"
identifier_fields = ["term"]
keep_unmapped = true
`

const yamlConfig = `
store:
  in_memory: true
embedding:
  host: http://localhost:11434/v1
  model: embeddinggemma
  dimensions: 768
  base_delay: 1s
index:
  name: attributes
  metric: dotProduct
feeds:
  - id: crm
    path: crm.tsv
    identifier_fields: [name]
    fields:
      desc: description
`

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:11434/v1", cfg.Embedding.Host)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, "attributes", cfg.Index.Name)
	assert.Equal(t, 5, cfg.Query.K)
	assert.True(t, cfg.ReuseEmbeddings())
	assert.Empty(t, cfg.Chat.Model)
	assert.Equal(t, 1024, cfg.Chat.MaxTokens)
	assert.Equal(t, core.DefaultDomain, cfg.Consolidation.DefaultTags["domain"])
	require.NoError(t, cfg.Validate())
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := writeConfig(t, "attrcat.toml", tomlConfig)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data/catalog"), cfg.Store.Path)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 250*time.Millisecond, cfg.Embedding.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Embedding.CallTimeout)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.False(t, cfg.ReuseEmbeddings())
	assert.Equal(t, 10, cfg.Query.K)

	d := cfg.IndexDescriptor()
	assert.Equal(t, "attr_index", d.Name)
	assert.Equal(t, 1536, d.Dimension)
	assert.Equal(t, 32, d.M)
	assert.Equal(t, core.DefaultEFConstruction, d.EFConstruction)

	b := cfg.Backoff()
	assert.Equal(t, 5, b.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, b.BaseDelay)

	aiCfg := cfg.AIConfig()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "http://embed:8080/v1", aiCfg.EmbeddingHost)
	assert.Equal(t, "none", aiCfg.APIKey)
	assert.Equal(t, "llama3.1", aiCfg.ChatModel)
	assert.Equal(t, "http://embed:8080/v1", aiCfg.ChatHost, "chat host defaults to the embedding host")
	assert.Equal(t, 512, aiCfg.ChatMaxTokens)
	assert.InDelta(t, 0.1, aiCfg.ChatTemperature, 1e-9)

	sources := cfg.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "crm", sources[0].Spec.ID)
	assert.Equal(t, filepath.Join(dir, "feeds/crm.csv"), sources[0].Path)
	assert.Equal(t, []string{"attribute_name", "name"}, sources[0].Spec.IdentifierFields)
	assert.Equal(t, "domain", sources[0].Spec.Tags["business_domain"])
	assert.Equal(t, ";", sources[0].Spec.RuleSeparator)
	assert.Equal(t, "/srv/feeds/glossary.jsonl.gz", sources[1].Path)
	assert.True(t, sources[1].Spec.KeepUnmapped)
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-from-env")
	path := writeConfig(t, "attrcat.yaml", yamlConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, time.Second, cfg.Embedding.BaseDelay)
	assert.Equal(t, "sk-from-env", cfg.Embedding.APIKey)
	assert.Equal(t, core.MetricDotProduct, cfg.IndexDescriptor().Metric)
	assert.Equal(t, 768, cfg.IndexDescriptor().Dimension)
	assert.Equal(t, "description", cfg.Sources()[0].Spec.Fields["desc"])
	assert.Equal(t, []string{"description", "definition"}, cfg.Layout().DescriptionFields)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		contents string
		wantMsg  string
	}{
		{name: "unsupported extension", file: "attrcat.json", contents: "{}", wantMsg: "unsupported config format"},
		{name: "bad toml", file: "bad.toml", contents: "[store\npath=", wantMsg: "load config"},
		{name: "unknown toml key", file: "unknown.toml", contents: "[store]\nfolder = \"x\"\n", wantMsg: "unknown keys"},
		{name: "unknown yaml key", file: "unknown.yaml", contents: "store:\n  folder: x\n", wantMsg: "folder"},
		{name: "dimension mismatch", file: "dim.toml", contents: "[index]\ndimension = 384\n", wantMsg: "dimension mismatch"},
		{name: "feed without identifier", file: "feed.toml", contents: "[[feeds]]\nid = \"crm\"\npath = \"crm.csv\"\n", wantMsg: "identifier_fields"},
		{name: "feed with unknown format", file: "fmt.toml", contents: "[[feeds]]\nid = \"crm\"\npath = \"crm.xlsx\"\nidentifier_fields = [\"name\"]\n", wantMsg: "unsupported feed format"},
		{name: "duplicate feed id", file: "dup.yaml", contents: "feeds:\n  - {id: a, path: a.csv, identifier_fields: [n]}\n  - {id: a, path: b.csv, identifier_fields: [n]}\n", wantMsg: "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.contents))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""
	cfg.Embedding.MaxAttempts = 0
	cfg.Embedding.RateLimit = -1

	err := cfg.Validate()
	require.Error(t, err)

	var cerr *core.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, err.Error(), "store.path")
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "rate_limit")
}
