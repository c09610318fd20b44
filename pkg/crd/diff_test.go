package crd

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustParse(t *testing.T, manifest string) *Schema {
	t.Helper()
	s, err := ParseSchemaBytes([]byte(manifest))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func widgetManifest(specFields string) string {
	return `
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
spec:
  group: example.com
  names:
    kind: Widget
    plural: widgets
  scope: Namespaced
  versions:
    - name: v1
      served: true
      storage: true
      schema:
        openAPIV3Schema:
          type: object
          properties:
            spec:
` + specFields
}

const widgetBase = `              type: object
              required:
                - size
              properties:
                size:
                  type: integer
                mode:
                  type: string
`

func TestDiffIdentical(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, widgetManifest(widgetBase))

	changes := Diff(a, b)
	if len(changes) != 0 {
		t.Errorf("expected no changes, got %v", changes)
	}
	if diff := cmp.Diff(SeveritySafe.String(), MaxSeverity(changes).String()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestDiffAddOptionalField(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, widgetManifest(widgetBase+`                color:
                  type: string
`))

	changes := Diff(a, b)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %v", changes)
	}
	if diff := cmp.Diff(string(AddOptionalField), string(changes[0].Kind)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(SeveritySafe.String(), changes[0].Severity.String()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("v1.spec.color", strings.Join(changes[0].Path, ".")); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestDiffRemoveRequiredField(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, widgetManifest(`              type: object
              properties:
                mode:
                  type: string
`))

	changes := Diff(a, b)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %v", changes)
	}
	if diff := cmp.Diff(string(RemoveRequiredField), string(changes[0].Kind)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if !HasDangerous(changes) {
		t.Error("expected a dangerous change set")
	}
}

func TestDiffFieldBecameRequired(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, widgetManifest(`              type: object
              required:
                - size
                - mode
              properties:
                size:
                  type: integer
                mode:
                  type: string
`))

	changes := Diff(a, b)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %v", changes)
	}
	if diff := cmp.Diff(string(FieldBecameRequired), string(changes[0].Kind)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(SeverityDangerous.String(), changes[0].Severity.String()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestDiffFieldTypeChange(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, widgetManifest(`              type: object
              required:
                - size
              properties:
                size:
                  type: string
                mode:
                  type: string
`))

	changes := Diff(a, b)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %v", changes)
	}
	if diff := cmp.Diff(string(FieldTypeChange), string(changes[0].Kind)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(SeverityDangerous.String(), changes[0].Severity.String()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestDiffValidationTightened(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, widgetManifest(`              type: object
              required:
                - size
              properties:
                size:
                  type: integer
                  minimum: 1
                  maximum: 10
                mode:
                  type: string
                  pattern: "^(fast|slow)$"
`))

	changes := Diff(a, b)
	if len(changes) != 2 {
		t.Fatalf("expected two changes, got %v", changes)
	}
	for _, c := range changes {
		if diff := cmp.Diff(string(ValidationChange), string(c.Kind)); diff != "" {
			t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(SeverityWarning.String(), c.Severity.String()); diff != "" {
			t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
		}
	}
}

func TestDiffRemoveVersion(t *testing.T) {
	a := mustParse(t, `
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
spec:
  group: example.com
  names:
    kind: Widget
    plural: widgets
  scope: Namespaced
  versions:
    - name: v1alpha1
      served: true
      storage: false
    - name: v1
      served: true
      storage: true
`)
	b := mustParse(t, `
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
spec:
  group: example.com
  names:
    kind: Widget
    plural: widgets
  scope: Namespaced
  versions:
    - name: v1
      served: true
      storage: true
`)

	changes := Diff(a, b)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %v", changes)
	}
	if diff := cmp.Diff(string(RemoveVersion), string(changes[0].Kind)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(SeverityDangerous.String(), changes[0].Severity.String()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestDiffStorageVersionMoved(t *testing.T) {
	a := mustParse(t, `
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
spec:
  group: example.com
  names:
    kind: Widget
    plural: widgets
  scope: Namespaced
  versions:
    - name: v1beta1
      served: true
      storage: true
    - name: v1
      served: true
      storage: false
`)
	b := mustParse(t, `
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
spec:
  group: example.com
  names:
    kind: Widget
    plural: widgets
  scope: Namespaced
  versions:
    - name: v1beta1
      served: true
      storage: false
    - name: v1
      served: true
      storage: true
`)

	// the version set is unchanged, only the storage marker moved
	changes := Diff(a, b)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %v", changes)
	}
	if diff := cmp.Diff(string(StorageVersionChange), string(changes[0].Kind)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(SeverityDangerous.String(), changes[0].Severity.String()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}

func TestDiffScopeChangeReportedOnce(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, strings.Replace(widgetManifest(`              type: object
              properties:
                mode:
                  type: string
`), "scope: Namespaced", "scope: Cluster", 1))

	changes := Diff(a, b)

	var scopeChanges int
	for _, c := range changes {
		if c.Kind == ScopeChange {
			scopeChanges++
		}
	}
	if scopeChanges != 1 {
		t.Errorf("expected the scope change to be reported exactly once, got %d", scopeChanges)
	}
	if !HasDangerous(changes) {
		t.Error("expected a dangerous change set")
	}
}

func TestDiffPrinterColumns(t *testing.T) {
	base := `
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
spec:
  group: example.com
  names:
    kind: Widget
    plural: widgets
  scope: Namespaced
  versions:
    - name: v1
      served: true
      storage: true
      additionalPrinterColumns:
`
	a := mustParse(t, base+`        - name: Size
          type: integer
          jsonPath: .spec.size
`)
	b := mustParse(t, base+`        - name: Age
          type: date
          jsonPath: .metadata.creationTimestamp
`)

	changes := Diff(a, b)
	kinds := map[ChangeKind]Severity{}
	for _, c := range changes {
		kinds[c.Kind] = c.Severity
	}
	if sev, ok := kinds[AddPrinterColumn]; !ok || sev != SeveritySafe {
		t.Errorf("expected a safe AddPrinterColumn change, got %v", changes)
	}
	if sev, ok := kinds[RemovePrinterColumn]; !ok || sev != SeverityWarning {
		t.Errorf("expected a warning RemovePrinterColumn change, got %v", changes)
	}
}

func TestDiffDeterministic(t *testing.T) {
	a := mustParse(t, widgetManifest(widgetBase))
	b := mustParse(t, widgetManifest(`              type: object
              properties:
                alpha:
                  type: string
                beta:
                  type: integer
                gamma:
                  type: boolean
`))

	first := Diff(a, b)
	second := Diff(a, b)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("expected identical change lists across runs (-want +got):\n%s", diff)
	}
}
