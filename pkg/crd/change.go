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
	"strings"
)

// Severity classifies the risk of a single schema change.
type Severity int

const (
	SeveritySafe Severity = iota
	SeverityWarning
	SeverityDangerous
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityDangerous:
		return "dangerous"
	default:
		return "safe"
	}
}

// ChangeKind is the closed set of detectable schema changes.
type ChangeKind string

const (
	AddVersion           ChangeKind = "AddVersion"
	RemoveVersion        ChangeKind = "RemoveVersion"
	StorageVersionChange ChangeKind = "StorageVersionChange"
	ServedVersionChange  ChangeKind = "ServedVersionChange"
	ScopeChange          ChangeKind = "ScopeChange"
	GroupChange          ChangeKind = "GroupChange"
	NamesChange          ChangeKind = "NamesChange"
	ConversionChange     ChangeKind = "ConversionChange"

	AddOptionalField    ChangeKind = "AddOptionalField"
	AddRequiredField    ChangeKind = "AddRequiredField"
	RemoveOptionalField ChangeKind = "RemoveOptionalField"
	RemoveRequiredField ChangeKind = "RemoveRequiredField"
	FieldBecameRequired ChangeKind = "FieldBecameRequired"
	FieldBecameOptional ChangeKind = "FieldBecameOptional"
	FieldTypeChange     ChangeKind = "FieldTypeChange"
	FieldFormatChange   ChangeKind = "FieldFormatChange"
	NullableChange      ChangeKind = "NullableChange"
	DefaultValueChange  ChangeKind = "DefaultValueChange"
	ValidationChange    ChangeKind = "ValidationChange"
	EnumChange          ChangeKind = "EnumChange"
	PruningChange       ChangeKind = "PruningChange"
	SubresourceChange   ChangeKind = "SubresourceChange"

	AddPrinterColumn    ChangeKind = "AddPrinterColumn"
	RemovePrinterColumn ChangeKind = "RemovePrinterColumn"
	PrinterColumnChange ChangeKind = "PrinterColumnChange"
)

// Change is one detected difference between two schemas.
type Change struct {
	// Kind tags the change within the closed set.
	Kind ChangeKind

	// Severity classifies the risk of applying the change.
	Severity Severity

	// Path locates the change within the schema tree, starting with the
	// version name for version-scoped changes.
	Path []string

	// Description is the human-readable explanation rendered by the CLI.
	Description string
}

func (c Change) String() string {
	if len(c.Path) == 0 {
		return fmt.Sprintf("[%s] %s: %s", c.Severity, c.Kind, c.Description)
	}
	return fmt.Sprintf("[%s] %s at %s: %s", c.Severity, c.Kind, strings.Join(c.Path, "."), c.Description)
}

// MaxSeverity returns the highest severity among the given changes,
// SeveritySafe when the list is empty.
func MaxSeverity(changes []Change) Severity {
	max := SeveritySafe
	for _, c := range changes {
		if c.Severity > max {
			max = c.Severity
		}
	}
	return max
}

// HasDangerous reports whether any change in the list is dangerous.
func HasDangerous(changes []Change) bool {
	return MaxSeverity(changes) == SeverityDangerous
}
