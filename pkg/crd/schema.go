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

package crd

import (
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"
)

// Schema is the in-memory model of one CustomResourceDefinition: its
// identity, scope and the declared sequence of versions. Equality and
// diffing over a Schema are structural, never textual.
type Schema struct {
	// Name is the metadata name, by convention '<plural>.<group>'.
	Name string

	// Group is the API group the definition serves.
	Group string

	// Kind is the served kind, Plural/Singular/ListKind the naming set.
	Kind     string
	ListKind string
	Plural   string
	Singular string

	// Scope is either Namespaced or Cluster.
	Scope apiextensionsv1.ResourceScope

	// Conversion is the declared conversion strategy.
	Conversion apiextensionsv1.ConversionStrategyType

	// Versions preserves the declared ordering; the storage and served
	// markers are carried per version.
	Versions []VersionSchema
}

// VersionSchema holds one served version of a CRD.
type VersionSchema struct {
	Name    string
	Served  bool
	Storage bool

	// Validation is the OpenAPI v3 validation tree, nil when the version
	// declares no schema.
	Validation *apiextensionsv1.JSONSchemaProps

	Subresources *apiextensionsv1.CustomResourceSubresources

	// PrinterColumns preserves the declared column ordering.
	PrinterColumns []apiextensionsv1.CustomResourceColumnDefinition
}

// ParseError reports a malformed CRD document.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed CustomResourceDefinition %s: %s", e.Name, e.Reason)
}

// GroupKind returns the identity under which the definition is tracked.
func (s *Schema) GroupKind() schema.GroupKind {
	return schema.GroupKind{Group: s.Group, Kind: s.Kind}
}

// GroupVersionKind returns the served kind for the given version name.
func (s *Schema) GroupVersionKind(version string) schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: s.Group, Version: version, Kind: s.Kind}
}

// Version returns the schema of the named version, or nil.
func (s *Schema) Version(name string) *VersionSchema {
	for i := range s.Versions {
		if s.Versions[i].Name == name {
			return &s.Versions[i]
		}
	}
	return nil
}

// StorageVersion returns the name of the version marked as storage,
// or the empty string when none is marked.
func (s *Schema) StorageVersion() string {
	for _, v := range s.Versions {
		if v.Storage {
			return v.Name
		}
	}
	return ""
}

// Namespaced reports whether instances of the definition live in namespaces.
func (s *Schema) Namespaced() bool {
	return s.Scope == apiextensionsv1.NamespaceScoped
}

// IsDefinition reports whether the given object is a CustomResourceDefinition.
func IsDefinition(object *unstructured.Unstructured) bool {
	return object.GetKind() == "CustomResourceDefinition" &&
		object.GroupVersionKind().Group == "apiextensions.k8s.io"
}

// ParseSchema decodes the canonical apiextensions.k8s.io/v1 wire document
// into a Schema. It fails with a *ParseError when required fields are
// missing (group, at least one version) or the validation subtree cannot
// be decoded. Version ordering and printer column ordering are preserved
// as declared.
func ParseSchema(object *unstructured.Unstructured) (*Schema, error) {
	if !IsDefinition(object) {
		return nil, &ParseError{Name: object.GetName(), Reason: fmt.Sprintf("unexpected kind %s", object.GetKind())}
	}

	var def apiextensionsv1.CustomResourceDefinition
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(object.Object, &def); err != nil {
		return nil, &ParseError{Name: object.GetName(), Reason: fmt.Sprintf("undecodable validation schema: %v", err)}
	}

	return FromDefinition(&def)
}

// ParseSchemaBytes decodes a YAML or JSON CRD document into a Schema.
func ParseSchemaBytes(data []byte) (*Schema, error) {
	object := &unstructured.Unstructured{}
	if err := yaml.Unmarshal(data, &object.Object); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("undecodable document: %v", err)}
	}
	return ParseSchema(object)
}

// FromDefinition lifts a typed CustomResourceDefinition into a Schema.
func FromDefinition(def *apiextensionsv1.CustomResourceDefinition) (*Schema, error) {
	if def.Spec.Group == "" {
		return nil, &ParseError{Name: def.Name, Reason: "spec.group is empty"}
	}
	if len(def.Spec.Versions) == 0 {
		return nil, &ParseError{Name: def.Name, Reason: "spec.versions is empty"}
	}
	if def.Spec.Names.Kind == "" {
		return nil, &ParseError{Name: def.Name, Reason: "spec.names.kind is empty"}
	}

	s := &Schema{
		Name:     def.Name,
		Group:    def.Spec.Group,
		Kind:     def.Spec.Names.Kind,
		ListKind: def.Spec.Names.ListKind,
		Plural:   def.Spec.Names.Plural,
		Singular: def.Spec.Names.Singular,
		Scope:    def.Spec.Scope,
	}
	if def.Spec.Conversion != nil {
		s.Conversion = def.Spec.Conversion.Strategy
	} else {
		s.Conversion = apiextensionsv1.NoneConverter
	}

	seen := make(map[string]struct{}, len(def.Spec.Versions))
	for _, v := range def.Spec.Versions {
		if _, dup := seen[v.Name]; dup {
			return nil, &ParseError{Name: def.Name, Reason: fmt.Sprintf("duplicate version %s", v.Name)}
		}
		seen[v.Name] = struct{}{}

		vs := VersionSchema{
			Name:           v.Name,
			Served:         v.Served,
			Storage:        v.Storage,
			Subresources:   v.Subresources,
			PrinterColumns: v.AdditionalPrinterColumns,
		}
		if v.Schema != nil {
			vs.Validation = v.Schema.OpenAPIV3Schema
		}
		s.Versions = append(s.Versions, vs)
	}

	return s, nil
}
