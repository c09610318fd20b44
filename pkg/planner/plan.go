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

// Package planner turns loaded packs into a deterministic, tiered
// execution plan. Tiers are barriers: the engine finishes one tier
// before starting the next, so custom resources never race their own
// definitions.
package planner

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/crdpack/crdpack/pkg/objectutil"
	"github.com/crdpack/crdpack/pkg/pack"
)

// Action is the operation a step performs.
type Action string

const (
	ApplyCRD       Action = "apply-crd"
	WaitCRD        Action = "wait-crd"
	ApplyResource  Action = "apply-resource"
	DeleteResource Action = "delete-resource"
	DeleteCRD      Action = "delete-crd"
)

// Step is one unit of work. Exactly one of CRD and Resource is set,
// matching the action.
type Step struct {
	Action Action

	// Pack names the pack the subject came from.
	Pack string

	CRD      *pack.CRD
	Resource *unstructured.Unstructured
}

// Subject returns the step's subject in kind/name form for display.
func (s Step) Subject() string {
	if s.CRD != nil {
		return fmt.Sprintf("CustomResourceDefinition/%s", s.CRD.Schema.Name)
	}
	if s.Resource != nil {
		return objectutil.FmtUnstructured(s.Resource)
	}
	return ""
}

// Tier is a group of steps with no ordering constraints among them.
type Tier struct {
	// Name describes the tier's purpose, e.g. "apply-crds".
	Name string

	// Depth is the dependency depth the tier belongs to, zero for packs
	// with no dependencies.
	Depth int

	Steps []Step
}

// Plan is the ordered list of tiers for one install or uninstall.
type Plan struct {
	Tiers []Tier
}

// Len returns the total number of steps across all tiers.
func (p *Plan) Len() int {
	n := 0
	for _, tier := range p.Tiers {
		n += len(tier.Steps)
	}
	return n
}

// CycleError reports a dependency cycle between packs.
type CycleError struct {
	// Cycle lists the pack names along the cycle, first repeated last.
	Cycle []string
}

func (e *CycleError) Error() string {
	path := ""
	for i, name := range e.Cycle {
		if i > 0 {
			path += " -> "
		}
		path += name
	}
	return fmt.Sprintf("dependency cycle between packs: %s", path)
}
