package objectutil

import (
	"strings"
	"testing"
)

func TestReadObjectsMultiDoc(t *testing.T) {
	manifests := `
apiVersion: v1
kind: ConfigMap
metadata:
  name: first
---
# a comment only document
---
apiVersion: v1
kind: Secret
metadata:
  name: second
`
	objects, err := ReadObjects(strings.NewReader(manifests))
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objects))
	}
	if objects[0].GetName() != "first" || objects[1].GetKind() != "Secret" {
		t.Errorf("unexpected objects %v", objects)
	}
}

func TestReadObjectsList(t *testing.T) {
	manifests := `
apiVersion: v1
kind: List
items:
  - apiVersion: v1
    kind: ConfigMap
    metadata:
      name: one
  - apiVersion: v1
    kind: ConfigMap
    metadata:
      name: two
`
	objects, err := ReadObjects(strings.NewReader(manifests))
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected the list expanded into 2 objects, got %d", len(objects))
	}
}

func TestFmtUnstructured(t *testing.T) {
	object, err := ReadObject(strings.NewReader(`
apiVersion: apps/v1
kind: Deployment
metadata:
  name: server
  namespace: apps
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := FmtUnstructured(object); got != "Deployment/apps/server" {
		t.Errorf("unexpected identifier %s", got)
	}
}
