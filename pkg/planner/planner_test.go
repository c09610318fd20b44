package planner

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/crdpack/crdpack/pkg/crd"
	"github.com/crdpack/crdpack/pkg/ownership"
	"github.com/crdpack/crdpack/pkg/pack"
)

func testCRD(name, filename string, loc pack.LocationKind, policy ownership.Policy, skipWait bool) pack.CRD {
	return pack.CRD{
		Schema:   &crd.Schema{Name: name},
		Location: pack.Location{Kind: loc},
		Filename: filename,
		Policy:   policy,
		SkipWait: skipWait,
	}
}

func testResource(kind, apiVersion, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": apiVersion,
		"kind":       kind,
		"metadata":   map[string]interface{}{"name": name},
	}}
}

func tierSummary(p *Plan) []string {
	var out []string
	for _, tier := range p.Tiers {
		for _, step := range tier.Steps {
			out = append(out, tier.Name+" "+step.Subject())
		}
	}
	return out
}

func TestPlanInstall(t *testing.T) {
	base := &pack.Pack{
		Name: "base",
		CRDs: []pack.CRD{
			testCRD("bases.base.crdpack.dev", "bases.yaml", pack.StaticDir, ownership.Managed, false),
		},
		Resources: []*unstructured.Unstructured{
			testResource("ConfigMap", "v1", "base-settings"),
		},
	}
	app := &pack.Pack{
		Name:      "app",
		DependsOn: []pack.DependencyRef{{Name: "base"}},
		Dependencies: []*pack.Pack{
			base,
		},
		CRDs: []pack.CRD{
			testCRD("widgets.demo.crdpack.dev", "crd-widgets.yaml", pack.Template, ownership.Managed, false),
			testCRD("statics.demo.crdpack.dev", "statics.yaml", pack.StaticDir, ownership.Managed, false),
		},
		Resources: []*unstructured.Unstructured{
			testResource("Deployment", "apps/v1", "server"),
			testResource("Namespace", "v1", "apps"),
		},
	}

	plan, err := PlanInstall([]*pack.Pack{app})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"apply-crds CustomResourceDefinition/bases.base.crdpack.dev",
		"wait-crds CustomResourceDefinition/bases.base.crdpack.dev",
		"resources ConfigMap/base-settings",
		"apply-crds CustomResourceDefinition/statics.demo.crdpack.dev",
		"apply-crds CustomResourceDefinition/widgets.demo.crdpack.dev",
		"wait-crds CustomResourceDefinition/statics.demo.crdpack.dev",
		"wait-crds CustomResourceDefinition/widgets.demo.crdpack.dev",
		"resources Namespace/apps",
		"resources Deployment/server",
	}
	if diff := cmp.Diff(want, tierSummary(plan)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	if plan.Tiers[0].Depth != 0 || plan.Tiers[3].Depth != 1 {
		t.Errorf("unexpected tier depths %v, %v", plan.Tiers[0].Depth, plan.Tiers[3].Depth)
	}
}

func TestPlanInstallExternalPolicy(t *testing.T) {
	p := &pack.Pack{
		Name: "app",
		CRDs: []pack.CRD{
			testCRD("externals.demo.crdpack.dev", "crds.yaml", pack.StaticDir, ownership.External, false),
		},
	}

	plan, err := PlanInstall([]*pack.Pack{p})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"wait-crds CustomResourceDefinition/externals.demo.crdpack.dev",
	}
	if diff := cmp.Diff(want, tierSummary(plan)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestPlanInstallSkipWait(t *testing.T) {
	p := &pack.Pack{
		Name: "app",
		CRDs: []pack.CRD{
			testCRD("quicks.demo.crdpack.dev", "crds.yaml", pack.StaticDir, ownership.Managed, true),
		},
	}

	plan, err := PlanInstall([]*pack.Pack{p})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"apply-crds CustomResourceDefinition/quicks.demo.crdpack.dev",
	}
	if diff := cmp.Diff(want, tierSummary(plan)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestPlanInstallDeterministic(t *testing.T) {
	build := func() []*pack.Pack {
		return []*pack.Pack{
			{
				Name: "zeta",
				CRDs: []pack.CRD{
					testCRD("zetas.z.crdpack.dev", "crds.yaml", pack.StaticDir, ownership.Managed, false),
				},
			},
			{
				Name: "alpha",
				CRDs: []pack.CRD{
					testCRD("alphas.a.crdpack.dev", "crds.yaml", pack.StaticDir, ownership.Managed, false),
				},
			},
		}
	}

	first, err := PlanInstall(build())
	if err != nil {
		t.Fatal(err)
	}
	second, err := PlanInstall(build())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(tierSummary(first), tierSummary(second)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if got := first.Tiers[0].Steps[0].Pack; got != "alpha" {
		t.Errorf("expected independent packs ordered by name, got %s first", got)
	}
}

func TestPlanInstallCycle(t *testing.T) {
	a := &pack.Pack{Name: "a", DependsOn: []pack.DependencyRef{{Name: "b"}}}
	b := &pack.Pack{Name: "b", DependsOn: []pack.DependencyRef{{Name: "a"}}}
	a.Dependencies = []*pack.Pack{b}

	_, err := PlanInstall([]*pack.Pack{a})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected a cycle error, got %v", err)
	}
	if len(cycleErr.Cycle) < 3 {
		t.Errorf("expected the cycle path named, got %v", cycleErr.Cycle)
	}
}

func TestPlanUninstall(t *testing.T) {
	base := &pack.Pack{
		Name: "base",
		CRDs: []pack.CRD{
			testCRD("bases.base.crdpack.dev", "bases.yaml", pack.StaticDir, ownership.Managed, false),
		},
	}
	app := &pack.Pack{
		Name:         "app",
		DependsOn:    []pack.DependencyRef{{Name: "base"}},
		Dependencies: []*pack.Pack{base},
		CRDs: []pack.CRD{
			testCRD("widgets.demo.crdpack.dev", "crds.yaml", pack.StaticDir, ownership.Managed, false),
			testCRD("shareds.demo.crdpack.dev", "crds.yaml", pack.StaticDir, ownership.Shared, false),
		},
		Resources: []*unstructured.Unstructured{
			testResource("Namespace", "v1", "apps"),
			testResource("Deployment", "apps/v1", "server"),
		},
	}

	plan, err := PlanUninstall([]*pack.Pack{app})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"delete-resources Deployment/server",
		"delete-resources Namespace/apps",
		"delete-crds CustomResourceDefinition/widgets.demo.crdpack.dev",
		"delete-crds CustomResourceDefinition/bases.base.crdpack.dev",
	}
	if diff := cmp.Diff(want, tierSummary(plan)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestPlanInstallCustomResourcesFollowWait(t *testing.T) {
	base := &pack.Pack{
		Name: "base",
		CRDs: []pack.CRD{
			testCRD("bases.base.crdpack.dev", "bases.yaml", pack.StaticDir, ownership.Managed, false),
		},
	}
	app := &pack.Pack{
		Name:      "app",
		DependsOn: []pack.DependencyRef{{Name: "base"}},
		Dependencies: []*pack.Pack{
			base,
		},
		CRDs: []pack.CRD{
			testCRD("widgets.demo.crdpack.dev", "crd-widgets.yaml", pack.Template, ownership.Managed, false),
		},
		Resources: []*unstructured.Unstructured{
			// a custom resource of the pack's own CRD, one of the
			// dependency's CRD, and a plain resource for contrast
			testResource("Widget", "demo.crdpack.dev/v1", "first"),
			testResource("ConfigMap", "v1", "settings"),
			testResource("Base", "base.crdpack.dev/v1", "root"),
		},
	}

	plan, err := PlanInstall([]*pack.Pack{app})
	if err != nil {
		t.Fatal(err)
	}

	got := tierSummary(plan)
	want := []string{
		"apply-crds CustomResourceDefinition/bases.base.crdpack.dev",
		"wait-crds CustomResourceDefinition/bases.base.crdpack.dev",
		"apply-crds CustomResourceDefinition/widgets.demo.crdpack.dev",
		"wait-crds CustomResourceDefinition/widgets.demo.crdpack.dev",
		"resources ConfigMap/settings",
		"resources Base/root",
		"resources Widget/first",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	// every custom resource lands strictly after the wait for its CRD
	index := func(s string) int {
		for i, v := range got {
			if v == s {
				return i
			}
		}
		t.Fatalf("step %q missing from plan %v", s, got)
		return -1
	}
	if index("wait-crds CustomResourceDefinition/widgets.demo.crdpack.dev") >= index("resources Widget/first") {
		t.Error("expected the Widget custom resource after the wait for its CRD")
	}
	if index("wait-crds CustomResourceDefinition/bases.base.crdpack.dev") >= index("resources Base/root") {
		t.Error("expected the Base custom resource after the wait for the dependency's CRD")
	}
}
