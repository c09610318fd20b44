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

package pack

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/chartutil"
	helmengine "helm.sh/helm/v3/pkg/engine"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/crdpack/crdpack/pkg/crd"
	"github.com/crdpack/crdpack/pkg/objectutil"
	"github.com/crdpack/crdpack/pkg/ownership"
	"github.com/crdpack/crdpack/pkg/strategy"
)

// LoadOptions configures pack loading and rendering.
type LoadOptions struct {
	// ReleaseName is the name the pack is rendered under.
	ReleaseName string

	// Namespace is the target namespace exposed to templates.
	Namespace string

	// Values overrides the pack's default values.
	Values map[string]interface{}
}

// Load reads a pack from a directory or archive, renders its templates,
// lifts out the CRDs and recursively loads the declared dependencies.
// CRDs from the static crds directory are ordered before CRDs found in
// templates; within one location the loader preserves filename order.
func Load(path string, opts LoadOptions) (*Pack, error) {
	ch, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading pack from %s failed, error: %w", path, err)
	}

	return fromChart(ch, opts)
}

func fromChart(ch *chart.Chart, opts LoadOptions) (*Pack, error) {
	p := &Pack{
		Name:    ch.Name(),
		Version: ch.Metadata.Version,
	}

	defaultPolicy, defaultStrategy, err := packDefaults(ch)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", p.Name, err)
	}

	// static CRDs from the crds directory come first
	for _, obj := range ch.CRDObjects() {
		crds, err := readCRDs(obj.File.Data, obj.Filename, Location{Kind: StaticDir}, defaultPolicy, defaultStrategy)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", p.Name, err)
		}
		p.CRDs = append(p.CRDs, crds...)
	}

	rendered, err := renderTemplates(ch, opts)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", p.Name, err)
	}

	for _, doc := range rendered {
		for _, object := range doc.objects {
			if crd.IsDefinition(object) {
				c, err := newCRD(object, doc.filename, Location{Kind: Template}, defaultPolicy, defaultStrategy)
				if err != nil {
					return nil, fmt.Errorf("pack %s: %w", p.Name, err)
				}
				p.CRDs = append(p.CRDs, c)
				continue
			}
			p.Resources = append(p.Resources, object)
		}
	}

	for _, ref := range ch.Metadata.Dependencies {
		p.DependsOn = append(p.DependsOn, DependencyRef{Name: ref.Name, Constraint: ref.Version})
	}

	for _, depChart := range ch.Dependencies() {
		if err := checkConstraint(p, depChart); err != nil {
			return nil, err
		}
		dep, err := fromChart(depChart, LoadOptions{
			ReleaseName: opts.ReleaseName,
			Namespace:   opts.Namespace,
		})
		if err != nil {
			return nil, err
		}
		p.Dependencies = append(p.Dependencies, dep)
	}

	return p, nil
}

// checkConstraint verifies a bundled dependency satisfies the version
// constraint declared in the pack metadata.
func checkConstraint(p *Pack, depChart *chart.Chart) error {
	for _, ref := range p.DependsOn {
		if ref.Name != depChart.Name() || ref.Constraint == "" {
			continue
		}

		constraint, err := semver.NewConstraint(ref.Constraint)
		if err != nil {
			return fmt.Errorf("pack %s: invalid version constraint %q for dependency %s, error: %w",
				p.Name, ref.Constraint, ref.Name, err)
		}
		version, err := semver.NewVersion(depChart.Metadata.Version)
		if err != nil {
			return fmt.Errorf("pack %s: dependency %s has invalid version %q, error: %w",
				p.Name, ref.Name, depChart.Metadata.Version, err)
		}
		if !constraint.Check(version) {
			return fmt.Errorf("pack %s: dependency %s version %s does not satisfy constraint %q",
				p.Name, ref.Name, version, ref.Constraint)
		}
	}
	return nil
}

type renderedFile struct {
	filename string
	objects  []*unstructured.Unstructured
}

// renderTemplates expands the pack's own templates (dependencies render
// through their own packs) and decodes them into unstructured objects.
// Files are visited in sorted order so loading is deterministic.
func renderTemplates(ch *chart.Chart, opts LoadOptions) ([]renderedFile, error) {
	options := chartutil.ReleaseOptions{
		Name:      opts.ReleaseName,
		Namespace: opts.Namespace,
		IsInstall: true,
	}
	if options.Name == "" {
		options.Name = ch.Name()
	}

	values, err := chartutil.ToRenderValues(ch, opts.Values, options, chartutil.DefaultCapabilities)
	if err != nil {
		return nil, fmt.Errorf("preparing render values failed, error: %w", err)
	}

	files, err := helmengine.Engine{}.Render(ch, values)
	if err != nil {
		return nil, fmt.Errorf("rendering templates failed, error: %w", err)
	}

	ownPrefix := ch.Name() + "/templates/"

	var names []string
	for name := range files {
		if !strings.HasPrefix(name, ownPrefix) {
			continue
		}
		if filepath.Base(name) == "NOTES.txt" {
			continue
		}
		if strings.TrimSpace(files[name]) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	rendered := make([]renderedFile, 0, len(names))
	for _, name := range names {
		objects, err := objectutil.ReadObjects(strings.NewReader(files[name]))
		if err != nil {
			return nil, fmt.Errorf("decoding %s failed, error: %w", name, err)
		}
		rendered = append(rendered, renderedFile{
			filename: strings.TrimPrefix(name, ownPrefix),
			objects:  objects,
		})
	}

	return rendered, nil
}

func readCRDs(data []byte, filename string, loc Location, defaultPolicy ownership.Policy, defaultStrategy strategy.Name) ([]CRD, error) {
	objects, err := objectutil.ReadObjects(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s failed, error: %w", filename, err)
	}

	crds := make([]CRD, 0, len(objects))
	for _, object := range objects {
		if !crd.IsDefinition(object) {
			continue
		}
		c, err := newCRD(object, filename, loc, defaultPolicy, defaultStrategy)
		if err != nil {
			return nil, err
		}
		crds = append(crds, c)
	}
	return crds, nil
}

func newCRD(object *unstructured.Unstructured, filename string, loc Location, defaultPolicy ownership.Policy, defaultStrategy strategy.Name) (CRD, error) {
	schema, err := crd.ParseSchema(object)
	if err != nil {
		return CRD{}, err
	}

	policy, err := ownership.ResolvePolicy(object, defaultPolicy)
	if err != nil {
		return CRD{}, fmt.Errorf("CRD %s: %w", object.GetName(), err)
	}

	strategyName := defaultStrategy
	annotations := object.GetAnnotations()
	if v, ok := annotations[StrategyAnnotation]; ok {
		strategyName, err = strategy.Parse(v)
		if err != nil {
			return CRD{}, fmt.Errorf("CRD %s: %w", object.GetName(), err)
		}
	}

	return CRD{
		Object:   object,
		Schema:   schema,
		Location: loc,
		Filename: filepath.Base(filename),
		Strategy: strategyName,
		Policy:   policy,
		SkipWait: annotations[SkipWaitAnnotation] == "true",
	}, nil
}

func packDefaults(ch *chart.Chart) (ownership.Policy, strategy.Name, error) {
	var policy ownership.Policy
	strategyName := strategy.Safe

	if v, ok := ch.Metadata.Annotations[DefaultPolicyAnnotation]; ok {
		p, err := ownership.ParsePolicy(v)
		if err != nil {
			return "", "", err
		}
		policy = p
	}
	if v, ok := ch.Metadata.Annotations[DefaultStrategyAnnotation]; ok {
		s, err := strategy.Parse(v)
		if err != nil {
			return "", "", err
		}
		strategyName = s
	}

	return policy, strategyName, nil
}
