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
	"bytes"
	"fmt"
	"sort"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
)

// Diff structurally compares an existing schema with an incoming one and
// returns the classified list of changes. Fields within a type are diffed
// as a mapping (order independent); the version list is order sensitive
// only through the served and storage markers. The result is deterministic:
// versions follow the incoming declaration order, fields are visited in
// sorted order.
func Diff(old, new *Schema) []Change {
	var changes []Change

	if old.Group != new.Group {
		changes = append(changes, Change{
			Kind:        GroupChange,
			Severity:    SeverityDangerous,
			Description: fmt.Sprintf("API group changed from %s to %s", old.Group, new.Group),
		})
	}

	if old.Kind != new.Kind || old.Plural != new.Plural {
		changes = append(changes, Change{
			Kind:     NamesChange,
			Severity: SeverityDangerous,
			Description: fmt.Sprintf("resource names changed from %s/%s to %s/%s",
				old.Kind, old.Plural, new.Kind, new.Plural),
		})
	}

	// a scope flip invalidates every existing instance, report it once
	// regardless of any other difference
	if old.Scope != new.Scope {
		changes = append(changes, Change{
			Kind:        ScopeChange,
			Severity:    SeverityDangerous,
			Description: fmt.Sprintf("scope changed from %s to %s", old.Scope, new.Scope),
		})
	}

	if old.Conversion != new.Conversion {
		changes = append(changes, Change{
			Kind:        ConversionChange,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("conversion strategy changed from %s to %s", old.Conversion, new.Conversion),
		})
	}

	changes = append(changes, diffVersions(old, new)...)

	return changes
}

func diffVersions(old, new *Schema) []Change {
	var changes []Change

	for _, nv := range new.Versions {
		if old.Version(nv.Name) == nil {
			changes = append(changes, Change{
				Kind:        AddVersion,
				Severity:    SeveritySafe,
				Path:        []string{nv.Name},
				Description: fmt.Sprintf("version %s added", nv.Name),
			})
		}
	}

	for _, ov := range old.Versions {
		if new.Version(ov.Name) == nil {
			changes = append(changes, Change{
				Kind:        RemoveVersion,
				Severity:    SeverityDangerous,
				Path:        []string{ov.Name},
				Description: fmt.Sprintf("version %s removed, stored objects of this version become unreachable", ov.Name),
			})
		}
	}

	// a storage marker move is its own dangerous change, even when the
	// version set is otherwise unchanged
	if os, ns := old.StorageVersion(), new.StorageVersion(); os != ns {
		changes = append(changes, Change{
			Kind:        StorageVersionChange,
			Severity:    SeverityDangerous,
			Path:        []string{ns},
			Description: fmt.Sprintf("storage version moved from %s to %s", os, ns),
		})
	}

	for _, nv := range new.Versions {
		ov := old.Version(nv.Name)
		if ov == nil {
			continue
		}

		if ov.Served != nv.Served {
			severity := SeveritySafe
			desc := fmt.Sprintf("version %s is now served", nv.Name)
			if !nv.Served {
				severity = SeverityDangerous
				desc = fmt.Sprintf("version %s is no longer served, consumers of this version break", nv.Name)
			}
			changes = append(changes, Change{
				Kind:        ServedVersionChange,
				Severity:    severity,
				Path:        []string{nv.Name},
				Description: desc,
			})
		}

		changes = append(changes, diffSubresources(nv.Name, ov.Subresources, nv.Subresources)...)
		changes = append(changes, diffPrinterColumns(nv.Name, ov.PrinterColumns, nv.PrinterColumns)...)
		changes = append(changes, diffProps([]string{nv.Name}, ov.Validation, nv.Validation, false, false)...)
	}

	return changes
}

// diffProps recursively walks two validation trees over an explicit path.
// oldRequired/newRequired carry the requiredness of the field the trees
// describe, as declared on the parent.
func diffProps(path []string, old, new *apiextensionsv1.JSONSchemaProps, oldRequired, newRequired bool) []Change {
	var changes []Change

	switch {
	case old == nil && new == nil:
		return nil
	case old == nil:
		changes = append(changes, Change{
			Kind:        ValidationChange,
			Severity:    SeverityWarning,
			Path:        path,
			Description: "validation schema added, previously unvalidated data may now be rejected",
		})
		return changes
	case new == nil:
		changes = append(changes, Change{
			Kind:        ValidationChange,
			Severity:    SeverityWarning,
			Path:        path,
			Description: "validation schema removed",
		})
		return changes
	}

	if !oldRequired && newRequired {
		changes = append(changes, Change{
			Kind:        FieldBecameRequired,
			Severity:    SeverityDangerous,
			Path:        path,
			Description: "field became required, existing resources without it fail validation",
		})
	}
	if oldRequired && !newRequired {
		changes = append(changes, Change{
			Kind:        FieldBecameOptional,
			Severity:    SeveritySafe,
			Path:        path,
			Description: "field became optional",
		})
	}

	if old.Type != new.Type && old.Type != "" && new.Type != "" {
		changes = append(changes, Change{
			Kind:        FieldTypeChange,
			Severity:    SeverityDangerous,
			Path:        path,
			Description: fmt.Sprintf("type changed from %s to %s", old.Type, new.Type),
		})
	}

	if old.Format != new.Format {
		changes = append(changes, Change{
			Kind:        FieldFormatChange,
			Severity:    SeverityWarning,
			Path:        path,
			Description: fmt.Sprintf("format changed from %q to %q", old.Format, new.Format),
		})
	}

	if old.Nullable != new.Nullable {
		severity := SeveritySafe
		desc := "field became nullable"
		if old.Nullable {
			severity = SeverityWarning
			desc = "field is no longer nullable, null values are now rejected"
		}
		changes = append(changes, Change{Kind: NullableChange, Severity: severity, Path: path, Description: desc})
	}

	if !jsonEqual(old.Default, new.Default) {
		changes = append(changes, Change{
			Kind:        DefaultValueChange,
			Severity:    SeverityWarning,
			Path:        path,
			Description: "default value changed",
		})
	}

	if !enumEqual(old.Enum, new.Enum) {
		changes = append(changes, Change{
			Kind:        EnumChange,
			Severity:    SeverityWarning,
			Path:        path,
			Description: "enum values changed, previously valid values may now be rejected",
		})
	}

	if detail := boundsDetail(old, new); detail != "" {
		changes = append(changes, Change{
			Kind:        ValidationChange,
			Severity:    SeverityWarning,
			Path:        path,
			Description: detail,
		})
	}

	if !boolPtrEqual(old.XPreserveUnknownFields, new.XPreserveUnknownFields) {
		severity := SeveritySafe
		desc := "unknown fields are now preserved"
		if old.XPreserveUnknownFields != nil && *old.XPreserveUnknownFields {
			severity = SeverityDangerous
			desc = "unknown fields are no longer preserved and will be pruned"
		}
		changes = append(changes, Change{Kind: PruningChange, Severity: severity, Path: path, Description: desc})
	}

	changes = append(changes, diffProperties(path, old, new)...)

	if old.Items != nil || new.Items != nil {
		changes = append(changes, diffProps(append(append([]string{}, path...), "[]"),
			itemSchema(old.Items), itemSchema(new.Items), false, false)...)
	}

	if oldAdd, newAdd := additionalSchema(old), additionalSchema(new); oldAdd != nil || newAdd != nil {
		changes = append(changes, diffProps(append(append([]string{}, path...), "*"),
			oldAdd, newAdd, false, false)...)
	}

	return changes
}

func diffProperties(path []string, old, new *apiextensionsv1.JSONSchemaProps) []Change {
	var changes []Change

	oldRequired := requiredSet(old.Required)
	newRequired := requiredSet(new.Required)

	for _, name := range sortedKeys(new.Properties) {
		fieldPath := append(append([]string{}, path...), name)
		prop := new.Properties[name]
		if _, present := old.Properties[name]; !present {
			if newRequired[name] {
				changes = append(changes, Change{
					Kind:        AddRequiredField,
					Severity:    SeverityDangerous,
					Path:        fieldPath,
					Description: "required field added, existing resources without it fail validation",
				})
			} else {
				changes = append(changes, Change{
					Kind:        AddOptionalField,
					Severity:    SeveritySafe,
					Path:        fieldPath,
					Description: "optional field added",
				})
			}
			continue
		}

		oldProp := old.Properties[name]
		changes = append(changes, diffProps(fieldPath, &oldProp, &prop, oldRequired[name], newRequired[name])...)
	}

	for _, name := range sortedKeys(old.Properties) {
		if _, present := new.Properties[name]; present {
			continue
		}
		fieldPath := append(append([]string{}, path...), name)
		if oldRequired[name] {
			changes = append(changes, Change{
				Kind:        RemoveRequiredField,
				Severity:    SeverityDangerous,
				Path:        fieldPath,
				Description: "required field removed",
			})
		} else {
			changes = append(changes, Change{
				Kind:        RemoveOptionalField,
				Severity:    SeverityWarning,
				Path:        fieldPath,
				Description: "field removed, data stored under it is dropped on update",
			})
		}
	}

	return changes
}

func diffSubresources(version string, old, new *apiextensionsv1.CustomResourceSubresources) []Change {
	oldStatus := old != nil && old.Status != nil
	newStatus := new != nil && new.Status != nil
	oldScale := old != nil && old.Scale != nil
	newScale := new != nil && new.Scale != nil

	var changes []Change
	if oldStatus != newStatus {
		changes = append(changes, Change{
			Kind:        SubresourceChange,
			Severity:    SeverityWarning,
			Path:        []string{version},
			Description: fmt.Sprintf("status subresource enabled=%v", newStatus),
		})
	}
	if oldScale != newScale {
		changes = append(changes, Change{
			Kind:        SubresourceChange,
			Severity:    SeverityWarning,
			Path:        []string{version},
			Description: fmt.Sprintf("scale subresource enabled=%v", newScale),
		})
	}
	return changes
}

func diffPrinterColumns(version string, old, new []apiextensionsv1.CustomResourceColumnDefinition) []Change {
	var changes []Change

	oldCols := make(map[string]apiextensionsv1.CustomResourceColumnDefinition, len(old))
	for _, c := range old {
		oldCols[c.Name] = c
	}
	newCols := make(map[string]apiextensionsv1.CustomResourceColumnDefinition, len(new))
	for _, c := range new {
		newCols[c.Name] = c
	}

	for _, c := range new {
		oc, present := oldCols[c.Name]
		switch {
		case !present:
			changes = append(changes, Change{
				Kind:        AddPrinterColumn,
				Severity:    SeveritySafe,
				Path:        []string{version, c.Name},
				Description: "printer column added",
			})
		case oc.JSONPath != c.JSONPath || oc.Type != c.Type || oc.Format != c.Format:
			changes = append(changes, Change{
				Kind:        PrinterColumnChange,
				Severity:    SeverityWarning,
				Path:        []string{version, c.Name},
				Description: "printer column definition changed",
			})
		}
	}

	for _, c := range old {
		if _, present := newCols[c.Name]; !present {
			changes = append(changes, Change{
				Kind:        RemovePrinterColumn,
				Severity:    SeverityWarning,
				Path:        []string{version, c.Name},
				Description: "printer column removed",
			})
		}
	}

	return changes
}

// boundsDetail compares the bounds and pattern constraints of a field and
// returns a short description of what moved, or the empty string.
func boundsDetail(old, new *apiextensionsv1.JSONSchemaProps) string {
	var moved []string

	if !floatPtrEqual(old.Minimum, new.Minimum) || old.ExclusiveMinimum != new.ExclusiveMinimum {
		moved = append(moved, "minimum")
	}
	if !floatPtrEqual(old.Maximum, new.Maximum) || old.ExclusiveMaximum != new.ExclusiveMaximum {
		moved = append(moved, "maximum")
	}
	if !floatPtrEqual(old.MultipleOf, new.MultipleOf) {
		moved = append(moved, "multipleOf")
	}
	if !intPtrEqual(old.MinLength, new.MinLength) || !intPtrEqual(old.MaxLength, new.MaxLength) {
		moved = append(moved, "length bounds")
	}
	if !intPtrEqual(old.MinItems, new.MinItems) || !intPtrEqual(old.MaxItems, new.MaxItems) {
		moved = append(moved, "item bounds")
	}
	if !intPtrEqual(old.MinProperties, new.MinProperties) || !intPtrEqual(old.MaxProperties, new.MaxProperties) {
		moved = append(moved, "property bounds")
	}
	if old.UniqueItems != new.UniqueItems {
		moved = append(moved, "uniqueItems")
	}
	if old.Pattern != new.Pattern {
		moved = append(moved, "pattern")
	}

	if len(moved) == 0 {
		return ""
	}

	detail := moved[0]
	for _, m := range moved[1:] {
		detail += ", " + m
	}
	return fmt.Sprintf("constraints changed (%s), previously valid data may now be rejected", detail)
}

func itemSchema(items *apiextensionsv1.JSONSchemaPropsOrArray) *apiextensionsv1.JSONSchemaProps {
	if items == nil {
		return nil
	}
	return items.Schema
}

func additionalSchema(props *apiextensionsv1.JSONSchemaProps) *apiextensionsv1.JSONSchemaProps {
	if props.AdditionalProperties == nil {
		return nil
	}
	return props.AdditionalProperties.Schema
}

func requiredSet(required []string) map[string]bool {
	set := make(map[string]bool, len(required))
	for _, r := range required {
		set[r] = true
	}
	return set
}

func sortedKeys(props map[string]apiextensionsv1.JSONSchemaProps) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonEqual(a, b *apiextensionsv1.JSON) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return bytes.Equal(a.Raw, b.Raw)
}

func enumEqual(a, b []apiextensionsv1.JSON) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[string(v.Raw)]++
	}
	for _, v := range b {
		seen[string(v.Raw)]--
		if seen[string(v.Raw)] < 0 {
			return false
		}
	}
	return true
}

func floatPtrEqual(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func intPtrEqual(a, b *int64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	av := a != nil && *a
	bv := b != nil && *b
	return av == bv
}
