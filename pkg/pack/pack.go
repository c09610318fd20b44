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

// Package pack models the deployable unit: a bundle of manifest templates
// plus metadata, with its CRDs lifted out and annotated with lifecycle
// configuration.
package pack

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/crdpack/crdpack/pkg/crd"
	"github.com/crdpack/crdpack/pkg/ownership"
	"github.com/crdpack/crdpack/pkg/strategy"
)

// Annotation keys honored on CRD manifests and pack metadata.
const (
	StrategyAnnotation = "crdpack.dev/strategy"
	SkipWaitAnnotation = "crdpack.dev/skip-wait"

	// pack-level defaults, set in the pack metadata annotations
	DefaultPolicyAnnotation   = "crdpack.dev/crd-policy"
	DefaultStrategyAnnotation = "crdpack.dev/crd-strategy"
)

// LocationKind tags the provenance of a CRD within a pack.
type LocationKind int

const (
	// StaticDir marks CRDs shipped in the pack's crds directory.
	StaticDir LocationKind = iota

	// Template marks CRDs discovered in the rendered templates.
	Template

	// Dependency marks CRDs contributed by a dependency pack.
	Dependency
)

// Location is the provenance of a CRD instance. Location affects ordering
// and lint diagnostics, never legality.
type Location struct {
	Kind LocationKind

	// Pack names the contributing pack for Dependency locations.
	Pack string
}

func (l Location) String() string {
	switch l.Kind {
	case Template:
		return "template"
	case Dependency:
		return fmt.Sprintf("dependency(%s)", l.Pack)
	default:
		return "static"
	}
}

// CRD is one CustomResourceDefinition instance carried by a pack,
// together with its resolved lifecycle configuration.
type CRD struct {
	Object   *unstructured.Unstructured
	Schema   *crd.Schema
	Location Location

	// Filename is the source file within the pack, used as the ordering
	// tie-breaker.
	Filename string

	Strategy strategy.Name
	Policy   ownership.Policy
	SkipWait bool
}

// DependencyRef is a declared dependency of a pack on another pack.
type DependencyRef struct {
	Name       string
	Constraint string
}

// Pack is a loaded, fully rendered pack.
type Pack struct {
	Name    string
	Version string

	// DependsOn lists the declared dependency references.
	DependsOn []DependencyRef

	// Dependencies holds the loaded dependency packs.
	Dependencies []*Pack

	// CRDs holds the pack's own definitions, static before templated.
	CRDs []CRD

	// Resources holds every rendered manifest that is not a CRD.
	Resources []*unstructured.Unstructured
}

// AllPacks returns the pack and every transitive dependency, the pack
// itself first. The result aliases the loaded packs.
func (p *Pack) AllPacks() []*Pack {
	packs := []*Pack{p}
	for _, dep := range p.Dependencies {
		packs = append(packs, dep.AllPacks()...)
	}
	return packs
}

// AllCRDs returns the pack's CRDs plus the CRDs of every transitive
// dependency, relabeled with a Dependency location for diagnostics.
func (p *Pack) AllCRDs() []CRD {
	crds := append([]CRD{}, p.CRDs...)
	for _, dep := range p.Dependencies {
		for _, c := range dep.AllCRDs() {
			c.Location = Location{Kind: Dependency, Pack: dep.Name}
			crds = append(crds, c)
		}
	}
	return crds
}
