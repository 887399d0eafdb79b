// Package project renders canonical entities into the text that is embedded.
//
// The rendering is a fixed sequence of "label: value" lines:
//
//	name: <display name>
//	<identity fields, in layout order>
//	<tags, layout order first, then remaining tags sorted by name>
//	<description fields, in layout order>
//	<remaining scalar fields, sorted by name>
//	rule: <rule>            (one line per rule, in stored order)
//
// Empty values are omitted entirely. The same entity always renders to the
// same bytes. Truncation for provider limits is not done here.
package project

import (
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/attrcat/core"
)

// Layout fixes the order fields are rendered in.
type Layout struct {
	IdentityFields    []string
	TagOrder          []string
	DescriptionFields []string
}

// DefaultLayout renders domain and criticality first among tags and treats
// "description" and "definition" as free-text descriptions.
func DefaultLayout() Layout {
	return Layout{
		IdentityFields:    []string{"data_type", "source_system"},
		TagOrder:          []string{"domain", "criticality"},
		DescriptionFields: []string{"description", "definition"},
	}
}

// Projector renders entities using a Layout.
type Projector struct {
	layout Layout
}

// New creates a Projector. A zero Layout is valid and renders everything sorted.
func New(layout Layout) *Projector {
	return &Projector{layout: layout}
}

// Project renders the entity. It returns "" for a nil entity.
func (p *Projector) Project(entity *core.CanonicalEntity) string {
	if entity == nil {
		return ""
	}

	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
	}

	line("name", entity.DisplayName)

	done := make(map[string]bool)
	for _, f := range p.layout.IdentityFields {
		if !done[f] {
			line(f, entity.Fields[f])
			done[f] = true
		}
	}

	tagDone := make(map[string]bool)
	for _, t := range p.layout.TagOrder {
		if !tagDone[t] {
			line(t, entity.Tags[t])
			tagDone[t] = true
		}
	}
	for _, t := range slices.Sorted(maps.Keys(entity.Tags)) {
		if !tagDone[t] {
			line(t, entity.Tags[t])
		}
	}

	for _, f := range p.layout.DescriptionFields {
		if !done[f] {
			line(f, entity.Fields[f])
			done[f] = true
		}
	}
	for _, f := range slices.Sorted(maps.Keys(entity.Fields)) {
		if !done[f] {
			line(f, entity.Fields[f])
		}
	}

	for _, r := range entity.Rules {
		line("rule", r)
	}

	return b.String()
}
