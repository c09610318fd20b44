/*
Copyright 2022 The crdpack Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ownership tracks which release manages each CRD and with what
// declared intent, so that two releases cannot fight over the same
// definition.
package ownership

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"
)

// PolicyAnnotation overrides the pack-level policy on a single CRD manifest.
const PolicyAnnotation = "crdpack.dev/policy"

// Policy is the declared intent of a release towards a CRD.
type Policy string

const (
	// Managed means the release creates, updates and deletes the CRD.
	Managed Policy = "managed"

	// Shared means the release applies the CRD but never deletes it and
	// tolerates other releases applying it too.
	Shared Policy = "shared"

	// External means the CRD is provisioned outside this system; the
	// release only waits for it and never applies or deletes it.
	External Policy = "external"
)

// ParsePolicy validates a policy string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case Managed, Shared, External:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown CRD policy %q, must be one of managed, shared, external", s)
	}
}

// ResolvePolicy determines the policy for the given CRD manifest: an
// explicit annotation wins over the pack default, which wins over the
// system default (Managed).
func ResolvePolicy(object *unstructured.Unstructured, packDefault Policy) (Policy, error) {
	if v, ok := object.GetAnnotations()[PolicyAnnotation]; ok {
		return ParsePolicy(v)
	}
	if packDefault != "" {
		return packDefault, nil
	}
	return Managed, nil
}

// Record is the durable ownership entry for one CRD.
type Record struct {
	// Release is the name of the release that manages the CRD.
	Release string `json:"release"`

	// Policy is the intent the release declared.
	Policy Policy `json:"policy"`

	// Digest is the digest of the last applied definition, used for
	// idempotent re-apply after interrupted operations.
	Digest string `json:"digest,omitempty"`
}

// Store persists ownership records keyed by CRD identity (group+kind).
// A nil record with a nil error means no owner is recorded.
type Store interface {
	GetOwner(ctx context.Context, id schema.GroupKind) (*Record, error)
	SetOwner(ctx context.Context, id schema.GroupKind, record Record) error
	ClearOwner(ctx context.Context, id schema.GroupKind) error
}

// ConflictError reports that another release already manages a CRD.
type ConflictError struct {
	// Name is the CRD identity in Kind.group form.
	Name string

	// Owner is the release that holds the managed policy.
	Owner string

	// Current is the release that attempted to take ownership.
	Current string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("CRD %s is managed by release %s, release %s cannot take ownership",
		e.Name, e.Owner, e.Current)
}

// Check verifies that the given release may hold the given policy on the
// CRD. External policy is exempt: the engine never applies or deletes an
// external CRD, it only waits for it.
func Check(ctx context.Context, store Store, id schema.GroupKind, release string, policy Policy) error {
	if policy == External {
		return nil
	}

	owner, err := store.GetOwner(ctx, id)
	if err != nil {
		return fmt.Errorf("ownership lookup for %s failed, error: %w", id, err)
	}
	if owner == nil || owner.Release == release {
		return nil
	}
	if owner.Policy == Managed && policy == Managed {
		return &ConflictError{Name: id.String(), Owner: owner.Release, Current: release}
	}

	return nil
}

// Digest returns the content digest of the given object, suitable for
// Record.Digest.
func Digest(object *unstructured.Unstructured) string {
	data, err := yaml.Marshal(object.Object)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[schema.GroupKind]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[schema.GroupKind]Record{}}
}

func (s *MemoryStore) GetOwner(_ context.Context, id schema.GroupKind) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.records[id]; ok {
		record := r
		return &record, nil
	}
	return nil, nil
}

func (s *MemoryStore) SetOwner(_ context.Context, id schema.GroupKind, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = record
	return nil
}

func (s *MemoryStore) ClearOwner(_ context.Context, id schema.GroupKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// List returns the recorded identities sorted by name, for display.
func (s *MemoryStore) List() []schema.GroupKind {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]schema.GroupKind, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
