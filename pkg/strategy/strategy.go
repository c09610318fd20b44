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

// Package strategy decides whether a CRD update may be applied given the
// analyzer's change list. The strategy set is closed: Safe, Force, Skip.
package strategy

import (
	"fmt"

	"github.com/crdpack/crdpack/pkg/crd"
)

// Name selects one of the three update strategies.
type Name string

const (
	// Safe applies safe changes, warns on warnings and aborts on any
	// dangerous change.
	Safe Name = "safe"

	// Force always applies, but still surfaces the full change list.
	Force Name = "force"

	// Skip never updates an existing CRD; any detected change aborts and
	// leaves the cluster definition untouched.
	Skip Name = "skip"
)

// Parse validates a strategy name.
func Parse(s string) (Name, error) {
	switch Name(s) {
	case Safe, Force, Skip:
		return Name(s), nil
	case "":
		return Safe, nil
	default:
		return "", fmt.Errorf("unknown update strategy %q, must be one of safe, force, skip", s)
	}
}

// Verdict is the outcome of a strategy decision.
type Verdict int

const (
	Proceed Verdict = iota
	ProceedWithWarning
	Abort
)

func (v Verdict) String() string {
	switch v {
	case ProceedWithWarning:
		return "proceed-with-warning"
	case Abort:
		return "abort"
	default:
		return "proceed"
	}
}

// Decision carries the verdict and the full change list so the caller can
// render it regardless of the outcome.
type Decision struct {
	Verdict Verdict
	Changes []crd.Change
	Reason  string
}

// BreakingChangeError reports that the strategy refused a CRD update.
// The caller may retry with the force strategy or edit the definition.
type BreakingChangeError struct {
	Name     string
	Strategy Name
	Changes  []crd.Change
}

func (e *BreakingChangeError) Error() string {
	return fmt.Sprintf("CRD %s update rejected by the %s strategy: %d change(s), worst severity %s",
		e.Name, e.Strategy, len(e.Changes), crd.MaxSeverity(e.Changes))
}

// Decide evaluates the change list under the named strategy. The strategy
// set is fixed and exhaustive, so this is a plain switch over the tag.
func Decide(name Name, changes []crd.Change) Decision {
	switch name {
	case Force:
		if len(changes) == 0 {
			return Decision{Verdict: Proceed, Changes: changes}
		}
		return Decision{
			Verdict: Proceed,
			Changes: changes,
			Reason:  fmt.Sprintf("force strategy applies despite %d change(s)", len(changes)),
		}

	case Skip:
		if len(changes) == 0 {
			return Decision{Verdict: Proceed, Changes: changes}
		}
		return Decision{
			Verdict: Abort,
			Changes: changes,
			Reason:  "skip strategy leaves the existing definition untouched",
		}

	default: // Safe
		switch crd.MaxSeverity(changes) {
		case crd.SeverityDangerous:
			return Decision{
				Verdict: Abort,
				Changes: changes,
				Reason:  "dangerous schema changes detected",
			}
		case crd.SeverityWarning:
			return Decision{
				Verdict: ProceedWithWarning,
				Changes: changes,
				Reason:  "schema changes may reject previously valid data",
			}
		default:
			return Decision{Verdict: Proceed, Changes: changes}
		}
	}
}
