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

package main

import (
	"fmt"

	"helm.sh/helm/v3/pkg/chartutil"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/crdpack/crdpack/pkg/engine"
	"github.com/crdpack/crdpack/pkg/guard"
	"github.com/crdpack/crdpack/pkg/ownership"
	"github.com/crdpack/crdpack/pkg/pack"
	"github.com/crdpack/crdpack/pkg/strategy"
	"github.com/crdpack/crdpack/pkg/waiter"
)

// loadPack loads and renders the pack at the given path. Values files
// are merged left to right, later files taking precedence. A strategy
// override replaces the update strategy on every CRD, annotations
// included.
func loadPack(path, releaseName string, valueFiles []string, strategyOverride string) (*pack.Pack, error) {
	values := map[string]interface{}{}
	for _, f := range valueFiles {
		v, err := chartutil.ReadValuesFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading values from %s failed, error: %w", f, err)
		}
		values = chartutil.CoalesceTables(v.AsMap(), values)
	}

	p, err := pack.Load(path, pack.LoadOptions{
		ReleaseName: releaseName,
		Namespace:   *kubeconfigArgs.Namespace,
		Values:      values,
	})
	if err != nil {
		return nil, err
	}

	if strategyOverride != "" {
		name, err := strategy.Parse(strategyOverride)
		if err != nil {
			return nil, err
		}
		overrideStrategy(p, name)
	}

	if s := cfg.Strategy; s != "" && strategyOverride == "" {
		// the config default applies only where the pack says nothing
		name, err := strategy.Parse(s)
		if err != nil {
			return nil, err
		}
		if name != strategy.Safe {
			overrideDefaultStrategy(p, name)
		}
	}

	return p, nil
}

func overrideStrategy(p *pack.Pack, name strategy.Name) {
	for i := range p.CRDs {
		p.CRDs[i].Strategy = name
	}
	for _, dep := range p.Dependencies {
		overrideStrategy(dep, name)
	}
}

func overrideDefaultStrategy(p *pack.Pack, name strategy.Name) {
	for i := range p.CRDs {
		if _, ok := p.CRDs[i].Object.GetAnnotations()[pack.StrategyAnnotation]; !ok {
			p.CRDs[i].Strategy = name
		}
	}
	for _, dep := range p.Dependencies {
		overrideDefaultStrategy(dep, name)
	}
}

// newEngine wires the execution engine to the cluster: server-side apply
// under the configured field owner, ownership records in a ConfigMap,
// and readiness polling at the configured interval.
func newEngine(kubeClient client.Client, releaseName string, confirmations *guard.Confirmations) *engine.Engine {
	cluster := &engine.Cluster{
		Client:     kubeClient,
		FieldOwner: cfg.FieldManager.Name,
	}

	return &engine.Engine{
		Crds:      cluster,
		Resources: cluster,
		Owners: &ownership.ConfigMapStore{
			Client:     kubeClient,
			Namespace:  cfg.OwnershipNamespace,
			FieldOwner: cfg.FieldManager.Name,
			OwnerGroup: cfg.FieldManager.Group,
		},
		Waiter: &waiter.Waiter{
			Reader:   cluster,
			Interval: cfg.PollInterval.Duration,
			Timeout:  cfg.WaitTimeout.Duration,
		},
		Guard: &guard.Guard{
			Lister:        &guard.ClientLister{Client: kubeClient},
			Confirmations: confirmations,
		},
		Release: releaseName,
	}
}

func printReport(report *engine.Report) {
	for _, entry := range report.Entries {
		logger.Println(entry.String())
		for _, change := range entry.Changes {
			logger.Println(fmt.Sprintf("  [%s] %s: %s", change.Severity, change.Kind, change.Description))
		}
	}
}
