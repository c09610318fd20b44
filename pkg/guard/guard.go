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

// Package guard protects CRD deletion: removing an established
// definition cascades to every custom resource instance, so a nonzero
// instance count blocks the delete until the caller confirms it.
package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/crdpack/crdpack/pkg/crd"
)

// InstanceLister counts live custom resource instances of a CRD's
// storage version across all namespaces. Implementations may return an
// approximate count as long as zero means zero.
type InstanceLister interface {
	CountInstances(ctx context.Context, schema *crd.Schema) (int64, error)
}

// Impact describes what a CRD deletion would take with it.
type Impact struct {
	// Name is the CRD name.
	Name string

	// Count is the number of live instances that would be cascade
	// deleted.
	Count int64
}

// DeletionBlockedError reports a refused CRD deletion. The caller can
// confirm the deletion and retry.
type DeletionBlockedError struct {
	Name  string
	Count int64
}

func (e *DeletionBlockedError) Error() string {
	return fmt.Sprintf("refusing to delete CRD %s: %d live instance(s) would be cascade deleted, confirm to proceed",
		e.Name, e.Count)
}

// Confirmations is a single-use set of per-CRD deletion approvals.
// Taking a confirmation consumes it, so one approval never covers two
// deletions. Confirmations are never persisted.
type Confirmations struct {
	mu    sync.Mutex
	names map[string]bool
}

// NewConfirmations builds the set from the given CRD names.
func NewConfirmations(names ...string) *Confirmations {
	c := &Confirmations{names: map[string]bool{}}
	for _, name := range names {
		c.names[name] = true
	}
	return c
}

// Grant adds a confirmation for the named CRD.
func (c *Confirmations) Grant(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[name] = true
}

func (c *Confirmations) take(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.names[name] {
		delete(c.names, name)
		return true
	}
	return false
}

// Guard checks CRD deletions against live instances.
type Guard struct {
	Lister        InstanceLister
	Confirmations *Confirmations
}

// Check returns the deletion impact for the CRD. A nonzero instance
// count without a matching confirmation fails with
// *DeletionBlockedError; the confirmation, when present, is consumed.
func (g *Guard) Check(ctx context.Context, schema *crd.Schema) (*Impact, error) {
	count, err := g.Lister.CountInstances(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("counting instances of CRD %s failed, error: %w", schema.Name, err)
	}

	impact := &Impact{Name: schema.Name, Count: count}
	if count == 0 {
		return impact, nil
	}
	if g.Confirmations != nil && g.Confirmations.take(schema.Name) {
		return impact, nil
	}
	return impact, &DeletionBlockedError{Name: schema.Name, Count: count}
}
