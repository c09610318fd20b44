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

package engine

import (
	"fmt"

	"github.com/crdpack/crdpack/pkg/crd"
)

// Action represents the action type performed on a step's subject.
type Action string

const (
	CreatedAction     Action = "created"
	ConfiguredAction  Action = "configured"
	UnchangedAction   Action = "unchanged"
	SkippedAction     Action = "skipped"
	EstablishedAction Action = "established"
	DeletedAction     Action = "deleted"
)

// Report holds the result of one plan execution.
type Report struct {
	Entries []ReportEntry

	// Completed counts the steps that finished. When Execute returns an
	// error, Completed marks how far the plan got; re-running the same
	// plan is safe because every step is idempotent.
	Completed int

	// Total is the number of steps in the plan.
	Total int
}

func NewReport(total int) *Report {
	return &Report{Entries: []ReportEntry{}, Total: total}
}

func (r *Report) Add(e ReportEntry) {
	r.Entries = append(r.Entries, e)
}

func (r *Report) AddAll(e []ReportEntry) {
	r.Entries = append(r.Entries, e...)
}

// ReportEntry defines the result of an action performed on one subject.
type ReportEntry struct {
	// Subject represents the object ID in the format 'kind/name'.
	Subject string

	// Action is the action taken for this subject.
	Action Action

	// Changes holds the schema changes detected for CRD updates; empty
	// for creates and non-CRD subjects.
	Changes []crd.Change
}

func (e ReportEntry) String() string {
	return fmt.Sprintf("%s %s", e.Subject, e.Action)
}
