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

// Package waiter blocks until applied CustomResourceDefinitions are
// established by the API server. Until the Established condition turns
// true, custom resources of the new type are rejected, so the engine
// waits between the CRD tier and the resource tier.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/crdpack/crdpack/pkg/pack"
)

// Phase is the observable state of one wait.
type Phase string

const (
	// Pending means the wait has not started polling yet.
	Pending Phase = "Pending"

	// Polling means the waiter is querying the CRD's conditions.
	Polling Phase = "Polling"

	// Established means the API server accepted the definition and
	// serves the new type.
	Established Phase = "Established"

	// TimedOut means the deadline passed without the Established
	// condition turning true. The apply itself may still succeed later.
	TimedOut Phase = "TimedOut"

	// Failed means the API server rejected the definition, e.g. the
	// names conflict with an existing CRD.
	Failed Phase = "Failed"
)

// StatusReader reads the current conditions of a CRD by name.
// A NotFound error is treated as "not yet visible" and retried.
type StatusReader interface {
	Status(ctx context.Context, name string) ([]apiextensionsv1.CustomResourceDefinitionCondition, error)
}

// NotReadyError reports that a CRD did not become established within the
// timeout. The caller can retry with a longer timeout.
type NotReadyError struct {
	Name    string
	Timeout time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("CRD %s was not established within %s", e.Name, e.Timeout)
}

// Result is the outcome of one wait.
type Result struct {
	Name    string
	Phase   Phase
	Elapsed time.Duration
}

// Waiter polls CRD conditions until established, timed out or failed.
type Waiter struct {
	Reader   StatusReader
	Interval time.Duration
	Timeout  time.Duration
}

// Wait blocks until the named CRD is established. CRDs marked skip-wait
// report Established without polling. The context bounds the wait on top
// of the configured timeout.
func (w *Waiter) Wait(ctx context.Context, c pack.CRD) (Result, error) {
	result := Result{Name: c.Schema.Name, Phase: Pending}
	if c.SkipWait {
		result.Phase = Established
		return result, nil
	}

	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	var rejection error
	err := wait.PollImmediateUntilWithContext(pollCtx, w.Interval, func(pollCtx context.Context) (bool, error) {
		result.Phase = Polling
		conditions, err := w.Reader.Status(pollCtx, c.Schema.Name)
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}

		for _, cond := range conditions {
			switch {
			case cond.Type == apiextensionsv1.Established && cond.Status == apiextensionsv1.ConditionTrue:
				return true, nil
			case cond.Type == apiextensionsv1.NamesAccepted && cond.Status == apiextensionsv1.ConditionFalse:
				rejection = fmt.Errorf("CRD %s was rejected: %s", c.Schema.Name, cond.Message)
				return false, rejection
			case cond.Type == apiextensionsv1.Terminating && cond.Status == apiextensionsv1.ConditionTrue:
				rejection = fmt.Errorf("CRD %s is terminating", c.Schema.Name)
				return false, rejection
			}
		}
		return false, nil
	})
	result.Elapsed = time.Since(start)

	switch {
	case err == nil:
		result.Phase = Established
		return result, nil
	case rejection != nil:
		result.Phase = Failed
		return result, rejection
	case ctx.Err() != nil:
		result.Phase = Failed
		return result, ctx.Err()
	case errors.Is(err, wait.ErrWaitTimeout):
		result.Phase = TimedOut
		return result, &NotReadyError{Name: c.Schema.Name, Timeout: w.Timeout}
	default:
		result.Phase = Failed
		return result, fmt.Errorf("waiting for CRD %s failed, error: %w", c.Schema.Name, err)
	}
}

// WaitAll waits for every CRD concurrently, one goroutine per CRD, and
// returns once all are done. The first error cancels the remaining
// waits. Results are reported for every CRD, sorted by name.
func (w *Waiter) WaitAll(ctx context.Context, crds []pack.CRD) ([]Result, error) {
	var (
		mu      sync.Mutex
		results []Result
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := range crds {
		c := crds[i]
		g.Go(func() error {
			result, err := w.Wait(ctx, c)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return err
		})
	}

	err := g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, err
}
