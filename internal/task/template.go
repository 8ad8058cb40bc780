// Package task derives deterministic, parametrized tasks for
// (participant, round) pairs from a template set.
package task

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"practicum/internal/store"

	yaml "gopkg.in/yaml.v3"
)

// RoundSpec is one round's content inside a template: a brief with {param}
// placeholders, the options each placeholder draws from, and the checks and
// attachments that ship with the rendered task.
type RoundSpec struct {
	Brief       string              `yaml:"brief"`
	Params      map[string][]string `yaml:"params,omitempty"`
	Attachments []store.Attachment  `yaml:"attachments,omitempty"`
	Checks      []store.Check       `yaml:"checks"`
}

// Template is a two-round task definition.
type Template struct {
	ID     string    `yaml:"id"`
	Name   string    `yaml:"name"`
	Round1 RoundSpec `yaml:"round1"`
	Round2 RoundSpec `yaml:"round2"`
}

// Set is a loaded, validated template collection.
type Set struct {
	templates []Template
	byID      map[string]*Template
}

type setFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadSet parses a YAML template set and validates it.
func LoadSet(data []byte) (*Set, error) {
	var f setFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse template set: %w", err)
	}
	if len(f.Templates) == 0 {
		return nil, fmt.Errorf("template set is empty")
	}
	s := &Set{templates: f.Templates, byID: make(map[string]*Template)}
	for i := range s.templates {
		t := &s.templates[i]
		if t.ID == "" {
			return nil, fmt.Errorf("template %d has no id", i)
		}
		if _, dup := s.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		if len(t.Round1.Checks) == 0 || len(t.Round2.Checks) == 0 {
			return nil, fmt.Errorf("template %q must define checks for both rounds", t.ID)
		}
		s.byID[t.ID] = t
	}
	return s, nil
}

// Get returns the template by id, or nil.
func (s *Set) Get(id string) *Template {
	return s.byID[id]
}

// IDs returns the template ids in definition order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.templates))
	for _, t := range s.templates {
		ids = append(ids, t.ID)
	}
	return ids
}

// Pick selects a template deterministically from a seed string.
func (s *Set) Pick(seed string) *Template {
	rng := rand.New(rand.NewSource(seedInt(seed)))
	return &s.templates[rng.Intn(len(s.templates))]
}

// Render produces the parametrized brief, checks and attachments for a round.
// The same seed always yields the same rendering, so re-running distribution
// within a time bucket reproduces identical tasks.
func (t *Template) Render(round int, seed string) (string, []store.Check, []store.Attachment) {
	spec := t.Round1
	if round > 1 {
		spec = t.Round2
	}

	rng := rand.New(rand.NewSource(seedInt(seed)))
	brief := spec.Brief

	// Map iteration order is random; sort keys so the rng draws are stable.
	keys := make([]string, 0, len(spec.Params))
	for k := range spec.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		options := spec.Params[k]
		if len(options) == 0 {
			continue
		}
		choice := options[rng.Intn(len(options))]
		brief = strings.ReplaceAll(brief, "{"+k+"}", choice)
	}

	checks := make([]store.Check, len(spec.Checks))
	copy(checks, spec.Checks)
	attachments := make([]store.Attachment, len(spec.Attachments))
	copy(attachments, spec.Attachments)
	return brief, checks, attachments
}

// TaskID derives the stable task identifier: template id plus the first five
// hex chars of the content hash, so identical renderings collide on purpose.
func TaskID(templateID, brief string, attachments []store.Attachment) string {
	payload, _ := json.Marshal(attachments)
	sum := sha256.Sum256([]byte(brief + string(payload)))
	return templateID + "-" + hex.EncodeToString(sum[:])[:5]
}

// seedInt folds a seed string into an rng source.
func seedInt(seed string) int64 {
	sum := sha256.Sum256([]byte(seed))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
