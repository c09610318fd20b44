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

// Package crd models CustomResourceDefinition schemas and computes
// structural diffs between them.
//
// The diff classifies every detected change with a severity:
// - safe changes cannot reject existing data (new optional fields, new versions)
// - warnings may reject previously valid data (tightened constraints, removed columns)
// - dangerous changes break existing resources or consumers (removed versions,
//   type changes, scope flips, new required fields)
//
// The update strategies in pkg/strategy turn a change list into an
// apply/warn/abort decision.
package crd
