// Package identity derives the stable identity keys that tell perpetual
// instance-sync tasks apart within one infrastructure mapping.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/msageha/instsync/internal/model"
)

// ErrConfigurationMismatch is returned when a mapping is handed to an
// extractor of a different kind, or when no extractor exists for its kind.
var ErrConfigurationMismatch = errors.New("configuration mismatch")

// Scope tells whether a kind polls one task per identity or one per mapping.
type Scope int

const (
	ScopePerIdentity Scope = iota
	ScopePerMapping
)

func (s Scope) String() string {
	if s == ScopePerMapping {
		return "per_mapping"
	}
	return "per_identity"
}

// Key holds the kind-specific client-context fields of one pollable unit.
// It may also carry auxiliary fields such as START_DATE.
type Key map[string]string

// ID is the canonical form of the identity fields of k, ignoring auxiliary
// fields.
func (k Key) ID() string {
	names := make([]string, 0, len(k))
	for name := range k {
		if model.IsAuxiliaryParam(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + k[name]
	}
	return strings.Join(parts, "&")
}

// Inventory lists the units currently running for a mapping.
type Inventory interface {
	InstancesForAppAndInfraMapping(ctx context.Context, appID, infraMappingID string) ([]model.Instance, error)
}

// Extractor maps instances and deployment summaries of one kind to keys.
type Extractor struct {
	kind     model.Kind
	taskType model.TaskType
	scope    Scope
	fields   []string

	fromInstance   func(model.Instance) (Key, bool)
	fromDeployment func(model.DeploymentSummary) (Key, bool)
}

func (e *Extractor) Kind() model.Kind         { return e.kind }
func (e *Extractor) TaskType() model.TaskType { return e.taskType }
func (e *Extractor) Scope() Scope             { return e.scope }

// Fields returns the discriminator field names, empty for per-mapping kinds.
func (e *Extractor) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// CheckMapping rejects mappings of another kind.
func (e *Extractor) CheckMapping(m model.InfrastructureMapping) error {
	if m.Kind != e.kind {
		return fmt.Errorf("infra mapping %s has kind %q, extractor handles %q: %w",
			m.ID, m.Kind, e.kind, ErrConfigurationMismatch)
	}
	return nil
}

// ExtractBulk returns one key per distinct unit currently running for m.
// Per-mapping kinds return a single empty key without consulting inv.
func (e *Extractor) ExtractBulk(ctx context.Context, inv Inventory, m model.InfrastructureMapping) ([]Key, error) {
	if err := e.CheckMapping(m); err != nil {
		return nil, err
	}
	if e.scope == ScopePerMapping {
		return []Key{{}}, nil
	}

	instances, err := inv.InstancesForAppAndInfraMapping(ctx, m.AppID, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list instances app=%s infra_mapping=%s: %w", m.AppID, m.ID, err)
	}

	keys := make([]Key, 0, len(instances))
	for _, inst := range instances {
		if k, ok := e.fromInstance(inst); ok {
			keys = append(keys, k)
		}
	}
	return dedupe(keys), nil
}

// ExtractIncremental returns one key per distinct unit named by summaries.
// Summaries without the matching deployment-info variant are skipped.
func (e *Extractor) ExtractIncremental(m model.InfrastructureMapping, summaries []model.DeploymentSummary) ([]Key, error) {
	if err := e.CheckMapping(m); err != nil {
		return nil, err
	}
	if e.scope == ScopePerMapping {
		return []Key{{}}, nil
	}

	keys := make([]Key, 0, len(summaries))
	for _, s := range summaries {
		if k, ok := e.fromDeployment(s); ok {
			keys = append(keys, k)
		}
	}
	return dedupe(keys), nil
}

// KeyFromContext projects a stored client context onto this kind's
// discriminator fields. It reports false when a field is absent; an empty
// value (a Lambda without a version, a Web App without a slot) is part of
// the identity.
func (e *Extractor) KeyFromContext(cc model.ClientContext) (Key, bool) {
	k := make(Key, len(e.fields))
	for _, f := range e.fields {
		v, ok := cc.Params[f]
		if !ok {
			return nil, false
		}
		k[f] = v
	}
	return k, true
}

// dedupe keeps the first position of every identity. Auxiliary fields of a
// repeated identity are overwritten by the later occurrence.
func dedupe(keys []Key) []Key {
	index := make(map[string]int, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		id := k.ID()
		if i, seen := index[id]; seen {
			for name, v := range k {
				if model.IsAuxiliaryParam(name) {
					out[i][name] = v
				}
			}
			continue
		}
		index[id] = len(out)
		out = append(out, k)
	}
	return out
}
