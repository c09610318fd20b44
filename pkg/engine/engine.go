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

// Package engine executes installation plans against a cluster. Tiers
// run one after another; the steps inside a tier run concurrently. The
// engine itself never prints, it returns a Report for the caller to
// render.
package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/crdpack/crdpack/pkg/crd"
	"github.com/crdpack/crdpack/pkg/guard"
	"github.com/crdpack/crdpack/pkg/ownership"
	"github.com/crdpack/crdpack/pkg/pack"
	"github.com/crdpack/crdpack/pkg/planner"
	"github.com/crdpack/crdpack/pkg/strategy"
	"github.com/crdpack/crdpack/pkg/waiter"
)

// CrdClient reads, applies and deletes CustomResourceDefinitions.
// GetCRD returns nil with a nil error when the CRD does not exist.
type CrdClient interface {
	GetCRD(ctx context.Context, name string) (*crd.Schema, error)
	ApplyCRD(ctx context.Context, object *unstructured.Unstructured) error
	DeleteCRD(ctx context.Context, name string) error
}

// Applier applies and deletes regular resources.
type Applier interface {
	ApplyResource(ctx context.Context, object *unstructured.Unstructured) (Action, error)
	DeleteResource(ctx context.Context, object *unstructured.Unstructured) error
}

// Engine executes plans. All cluster access goes through the injected
// capabilities, so the engine itself is testable without a cluster.
type Engine struct {
	Crds      CrdClient
	Resources Applier
	Owners    ownership.Store
	Waiter    *waiter.Waiter
	Guard     *guard.Guard

	// Release is the name the executed pack is installed under.
	Release string

	// ownerMu serializes writes to the ownership store. The durable
	// store is read-modify-apply over a single ConfigMap, so the
	// concurrent steps of a tier must not interleave their writes.
	ownerMu sync.Mutex
}

// Execute runs the plan tier by tier. A tier must finish before the
// next starts; inside a tier the steps fan out, and the first failure
// cancels the tier's remaining steps. The report is returned alongside
// the error so the caller can see how far the plan got.
func (e *Engine) Execute(ctx context.Context, plan *planner.Plan) (*Report, error) {
	report := NewReport(plan.Len())

	for _, tier := range plan.Tiers {
		entries, err := e.executeTier(ctx, tier)
		report.AddAll(entries)
		report.Completed += len(entries)
		if err != nil {
			return report, err
		}
	}

	return report, nil
}

func (e *Engine) executeTier(ctx context.Context, tier planner.Tier) ([]ReportEntry, error) {
	results := make([]*ReportEntry, len(tier.Steps))

	g, ctx := errgroup.WithContext(ctx)
	for i := range tier.Steps {
		i := i
		step := tier.Steps[i]
		g.Go(func() error {
			entry, err := e.executeStep(ctx, step)
			if err != nil {
				return err
			}
			results[i] = &entry
			return nil
		})
	}
	err := g.Wait()

	entries := make([]ReportEntry, 0, len(results))
	for _, entry := range results {
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, err
}

func (e *Engine) executeStep(ctx context.Context, step planner.Step) (ReportEntry, error) {
	switch step.Action {
	case planner.ApplyCRD:
		return e.applyCRD(ctx, step.CRD)
	case planner.WaitCRD:
		return e.waitCRD(ctx, step.CRD)
	case planner.ApplyResource:
		action, err := e.Resources.ApplyResource(ctx, step.Resource)
		if err != nil {
			return ReportEntry{}, err
		}
		return ReportEntry{Subject: step.Subject(), Action: action}, nil
	case planner.DeleteResource:
		if err := e.Resources.DeleteResource(ctx, step.Resource); err != nil {
			return ReportEntry{}, err
		}
		return ReportEntry{Subject: step.Subject(), Action: DeletedAction}, nil
	case planner.DeleteCRD:
		return e.deleteCRD(ctx, step.CRD)
	default:
		return ReportEntry{}, fmt.Errorf("unknown plan action %q", step.Action)
	}
}

// applyCRD runs the CRD through the ownership check, diffs it against
// the cluster definition and lets the update strategy decide before the
// server-side apply.
func (e *Engine) applyCRD(ctx context.Context, c *pack.CRD) (ReportEntry, error) {
	subject := fmt.Sprintf("CustomResourceDefinition/%s", c.Schema.Name)
	id := c.Schema.GroupKind()

	if err := ownership.Check(ctx, e.Owners, id, e.Release, c.Policy); err != nil {
		return ReportEntry{}, err
	}

	existing, err := e.Crds.GetCRD(ctx, c.Schema.Name)
	if err != nil {
		return ReportEntry{}, fmt.Errorf("reading CRD %s failed, error: %w", c.Schema.Name, err)
	}

	if existing == nil {
		if err := e.Crds.ApplyCRD(ctx, c.Object); err != nil {
			return ReportEntry{}, fmt.Errorf("%s apply failed, error: %w", subject, err)
		}
		if err := e.recordOwner(ctx, c); err != nil {
			return ReportEntry{}, err
		}
		return ReportEntry{Subject: subject, Action: CreatedAction}, nil
	}

	changes := crd.Diff(existing, c.Schema)
	if len(changes) == 0 {
		if err := e.recordOwner(ctx, c); err != nil {
			return ReportEntry{}, err
		}
		return ReportEntry{Subject: subject, Action: UnchangedAction}, nil
	}

	decision := strategy.Decide(c.Strategy, changes)
	if decision.Verdict == strategy.Abort {
		if c.Strategy == strategy.Skip {
			return ReportEntry{Subject: subject, Action: SkippedAction, Changes: changes}, nil
		}
		return ReportEntry{}, &strategy.BreakingChangeError{
			Name:     c.Schema.Name,
			Strategy: c.Strategy,
			Changes:  changes,
		}
	}

	if err := e.Crds.ApplyCRD(ctx, c.Object); err != nil {
		return ReportEntry{}, fmt.Errorf("%s apply failed, error: %w", subject, err)
	}
	if err := e.recordOwner(ctx, c); err != nil {
		return ReportEntry{}, err
	}
	return ReportEntry{Subject: subject, Action: ConfiguredAction, Changes: changes}, nil
}

// recordOwner stores the ownership record after a successful apply.
// A shared release never overwrites an existing record.
func (e *Engine) recordOwner(ctx context.Context, c *pack.CRD) error {
	e.ownerMu.Lock()
	defer e.ownerMu.Unlock()

	id := c.Schema.GroupKind()
	if c.Policy == ownership.Shared {
		owner, err := e.Owners.GetOwner(ctx, id)
		if err != nil {
			return fmt.Errorf("ownership lookup for %s failed, error: %w", id, err)
		}
		if owner != nil && owner.Release != e.Release {
			return nil
		}
	}

	record := ownership.Record{
		Release: e.Release,
		Policy:  c.Policy,
		Digest:  ownership.Digest(c.Object),
	}
	if err := e.Owners.SetOwner(ctx, id, record); err != nil {
		return fmt.Errorf("recording ownership of %s failed, error: %w", id, err)
	}
	return nil
}

func (e *Engine) waitCRD(ctx context.Context, c *pack.CRD) (ReportEntry, error) {
	result, err := e.Waiter.Wait(ctx, *c)
	if err != nil {
		return ReportEntry{}, err
	}
	return ReportEntry{
		Subject: fmt.Sprintf("CustomResourceDefinition/%s", result.Name),
		Action:  EstablishedAction,
	}, nil
}

// deleteCRD refuses to remove a definition another release owns, checks
// the live instance count, and clears the ownership record afterwards.
func (e *Engine) deleteCRD(ctx context.Context, c *pack.CRD) (ReportEntry, error) {
	subject := fmt.Sprintf("CustomResourceDefinition/%s", c.Schema.Name)
	id := c.Schema.GroupKind()

	existing, err := e.Crds.GetCRD(ctx, c.Schema.Name)
	if err != nil {
		return ReportEntry{}, fmt.Errorf("reading CRD %s failed, error: %w", c.Schema.Name, err)
	}
	if existing == nil {
		return ReportEntry{Subject: subject, Action: UnchangedAction}, nil
	}

	owner, err := e.Owners.GetOwner(ctx, id)
	if err != nil {
		return ReportEntry{}, fmt.Errorf("ownership lookup for %s failed, error: %w", id, err)
	}
	if owner != nil && owner.Release != e.Release {
		return ReportEntry{}, &ownership.ConflictError{
			Name:    c.Schema.Name,
			Owner:   owner.Release,
			Current: e.Release,
		}
	}

	if _, err := e.Guard.Check(ctx, existing); err != nil {
		return ReportEntry{}, err
	}

	if err := e.Crds.DeleteCRD(ctx, c.Schema.Name); err != nil {
		return ReportEntry{}, fmt.Errorf("%s delete failed, error: %w", subject, err)
	}

	e.ownerMu.Lock()
	defer e.ownerMu.Unlock()
	if err := e.Owners.ClearOwner(ctx, id); err != nil {
		return ReportEntry{}, fmt.Errorf("clearing ownership of %s failed, error: %w", id, err)
	}
	return ReportEntry{Subject: subject, Action: DeletedAction}, nil
}
