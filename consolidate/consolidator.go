package consolidate

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/attrcat/core"
)

// FeedSpec maps one feed's schema onto the canonical entity.
type FeedSpec struct {
	// ID identifies the feed in provenance and diagnostics.
	ID string

	// IdentifierFields are the candidate identifier columns, in order.
	// The first non-empty one names the entity.
	IdentifierFields []string

	// Fields maps source field names to canonical scalar attribute names.
	Fields map[string]string

	// Tags maps source field names to classification tag names.
	Tags map[string]string

	// Rules lists source fields holding free-text rules.
	Rules []string

	// RuleSeparator splits one rule field into several rules when non-empty.
	RuleSeparator string

	// KeepUnmapped keeps unmapped, non-identifier source fields as scalars
	// under their source name.
	KeepUnmapped bool
}

// Feed is a FeedSpec with its parsed records.
type Feed struct {
	Spec    FeedSpec
	Records []core.SourceRecord
}

// Diagnostic is a non-error observation made during consolidation.
type Diagnostic struct {
	Key     string
	Feed    string
	Line    int
	Message string
}

// Result is the outcome of one consolidation.
type Result struct {
	// Entities sorted by key.
	Entities []*core.CanonicalEntity

	// Rejected records, in input order.
	Rejected []*core.RecordError

	// Diagnostics in input order.
	Diagnostics []Diagnostic

	// Records is the number of input records seen.
	Records int

	byKey map[string]*core.CanonicalEntity
}

// Get returns the entity for a canonical key, or nil.
func (r *Result) Get(key string) *core.CanonicalEntity {
	return r.byKey[core.NormalizeKey(key)]
}

// Consolidator merges feeds into canonical entities.
type Consolidator struct {
	defaultTags map[string]string
	logger      *slog.Logger
}

// Option configures a Consolidator.
type Option func(*Consolidator) error

// WithDefaultTags replaces the tag defaults applied to entities that no
// source tagged. Default is domain=General, criticality=Unknown.
func WithDefaultTags(tags map[string]string) Option {
	return func(c *Consolidator) error {
		c.defaultTags = maps.Clone(tags)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consolidator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a Consolidator.
func New(opts ...Option) (*Consolidator, error) {
	c := &Consolidator{
		defaultTags: map[string]string{
			"domain":      core.DefaultDomain,
			"criticality": core.DefaultCriticality,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "consolidator")
	return c, nil
}

// Consolidate merges feeds, in precedence order, into canonical entities.
// The only error it returns is a core.ConfigurationError for unusable feed
// specs; bad records are reported in the Result.
func (c *Consolidator) Consolidate(feeds []Feed) (*Result, error) {
	if err := validateFeeds(feeds); err != nil {
		return nil, core.NewConfigurationError("consolidate", err)
	}

	res := &Result{byKey: make(map[string]*core.CanonicalEntity)}
	ruleSeen := make(map[string]map[string]struct{})

	for rank, feed := range feeds {
		spec := feed.Spec
		for _, rec := range feed.Records {
			res.Records++

			identifier := firstIdentifier(rec, spec.IdentifierFields)
			key := core.NormalizeKey(identifier)
			if key == "" {
				rerr := &core.RecordError{
					Feed: spec.ID,
					Line: rec.Line,
					Err:  fmt.Errorf("%w: none of %s present", core.ErrMissingIdentifier, strings.Join(spec.IdentifierFields, ", ")),
				}
				res.Rejected = append(res.Rejected, rerr)
				c.logger.Warn("rejected record", "feed", spec.ID, "line", rec.Line, "err", rerr.Err)
				continue
			}

			entity, ok := res.byKey[key]
			if !ok {
				entity = &core.CanonicalEntity{
					Key:         key,
					DisplayName: identifier,
					Fields:      make(map[string]string),
					Tags:        make(map[string]string),
				}
				res.byKey[key] = entity
				if rank > 0 {
					d := Diagnostic{
						Key:     key,
						Feed:    spec.ID,
						Line:    rec.Line,
						Message: "key not present in any higher-precedence feed",
					}
					res.Diagnostics = append(res.Diagnostics, d)
					c.logger.Debug("new key from lower-precedence feed", "key", key, "feed", spec.ID, "line", rec.Line)
				}
			}

			seen := ruleSeen[key]
			if seen == nil {
				seen = make(map[string]struct{})
				ruleSeen[key] = seen
			}
			merge(entity, rec, spec, seen)
		}
	}

	for _, entity := range res.byKey {
		for tag, value := range c.defaultTags {
			if entity.Tags[tag] == "" {
				entity.Tags[tag] = value
			}
		}
		slices.Sort(entity.Provenance)
		res.Entities = append(res.Entities, entity)
	}
	slices.SortFunc(res.Entities, func(a, b *core.CanonicalEntity) int {
		return strings.Compare(a.Key, b.Key)
	})

	c.logger.Info("consolidation complete",
		"records", res.Records,
		"entities", len(res.Entities),
		"rejected", len(res.Rejected),
		"diagnostics", len(res.Diagnostics))

	return res, nil
}

// merge folds one record into its entity. seen holds the entity's rules.
func merge(entity *core.CanonicalEntity, rec core.SourceRecord, spec FeedSpec, seen map[string]struct{}) {
	if !slices.Contains(entity.Provenance, spec.ID) {
		entity.Provenance = append(entity.Provenance, spec.ID)
	}

	handled := make(map[string]bool, len(spec.IdentifierFields)+len(spec.Fields)+len(spec.Tags)+len(spec.Rules))
	for _, f := range spec.IdentifierFields {
		handled[f] = true
	}

	// Sorted so two source fields mapped onto one target resolve the same way every run.
	for _, src := range slices.Sorted(maps.Keys(spec.Fields)) {
		handled[src] = true
		setIfEmpty(entity.Fields, spec.Fields[src], rec.Get(src))
	}
	for _, src := range slices.Sorted(maps.Keys(spec.Tags)) {
		handled[src] = true
		setIfEmpty(entity.Tags, spec.Tags[src], rec.Get(src))
	}

	for _, src := range spec.Rules {
		handled[src] = true
		for _, rule := range splitRules(rec.Fields[src], spec.RuleSeparator) {
			if _, dup := seen[rule]; dup {
				continue
			}
			seen[rule] = struct{}{}
			entity.Rules = append(entity.Rules, rule)
		}
	}

	if spec.KeepUnmapped {
		for _, name := range slices.Sorted(maps.Keys(rec.Fields)) {
			if handled[name] {
				continue
			}
			setIfEmpty(entity.Fields, name, rec.Get(name))
		}
	}
}

func setIfEmpty(m map[string]string, name, value string) {
	if value == "" || m[name] != "" {
		return
	}
	m[name] = value
}

// splitRules returns the non-blank rules held by one field value. Rules are
// trimmed of surrounding whitespace but otherwise kept verbatim.
func splitRules(value, sep string) []string {
	var parts []string
	if sep == "" {
		parts = []string{value}
	} else {
		parts = strings.Split(value, sep)
	}
	rules := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, p)
		}
	}
	return rules
}

func firstIdentifier(rec core.SourceRecord, fields []string) string {
	for _, f := range fields {
		if v := rec.Get(f); v != "" {
			return v
		}
	}
	return ""
}

func validateFeeds(feeds []Feed) error {
	ids := make(map[string]bool, len(feeds))
	for i, feed := range feeds {
		if feed.Spec.ID == "" {
			return fmt.Errorf("feed %d: %w", i, ErrFeedIDRequired)
		}
		if ids[feed.Spec.ID] {
			return fmt.Errorf("feed %s: %w", feed.Spec.ID, ErrDuplicateFeed)
		}
		ids[feed.Spec.ID] = true
		if len(feed.Spec.IdentifierFields) == 0 {
			return fmt.Errorf("feed %s: %w", feed.Spec.ID, ErrIdentifierFieldsRequired)
		}
	}
	return nil
}
