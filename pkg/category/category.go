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

// Package category classifies Kubernetes manifests into the semantic
// classes used by the installation planner to order operations.
package category

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Category is the semantic class of a manifest, derived purely from its
// kind and API group.
type Category int

const (
	Crd Category = iota
	Namespace
	ClusterScopedRbac
	ServiceAccount
	ConfigMap
	Secret
	Service
	Workload
	Other
	CustomResource
)

func (c Category) String() string {
	switch c {
	case Crd:
		return "custom-resource-definition"
	case Namespace:
		return "namespace"
	case ClusterScopedRbac:
		return "cluster-rbac"
	case ServiceAccount:
		return "service-account"
	case ConfigMap:
		return "config-map"
	case Secret:
		return "secret"
	case Service:
		return "service"
	case Workload:
		return "workload"
	case CustomResource:
		return "custom-resource"
	default:
		return "other"
	}
}

// kindCategories maps the well-known core/apps/batch/rbac kinds that the
// planner special-cases. Kinds missing from this table fall back to the
// API group check in Categorize.
var kindCategories = map[string]Category{
	"CustomResourceDefinition": Crd,
	"Namespace":                Namespace,
	"ClusterRole":              ClusterScopedRbac,
	"ClusterRoleBinding":       ClusterScopedRbac,
	"ServiceAccount":           ServiceAccount,
	"ConfigMap":                ConfigMap,
	"Secret":                   Secret,
	"Service":                  Service,
	"Deployment":               Workload,
	"StatefulSet":              Workload,
	"DaemonSet":                Workload,
	"ReplicaSet":               Workload,
	"ReplicationController":    Workload,
	"Job":                      Workload,
	"CronJob":                  Workload,
	"Pod":                      Workload,
}

// builtinGroups holds the API groups served by upstream Kubernetes.
// Objects outside these groups are custom resources.
var builtinGroups = map[string]struct{}{
	"":                              {},
	"apps":                          {},
	"batch":                         {},
	"autoscaling":                   {},
	"policy":                        {},
	"extensions":                    {},
	"rbac.authorization.k8s.io":     {},
	"networking.k8s.io":             {},
	"storage.k8s.io":                {},
	"apiextensions.k8s.io":          {},
	"apiregistration.k8s.io":        {},
	"admissionregistration.k8s.io":  {},
	"authentication.k8s.io":         {},
	"authorization.k8s.io":          {},
	"certificates.k8s.io":           {},
	"coordination.k8s.io":           {},
	"discovery.k8s.io":              {},
	"events.k8s.io":                 {},
	"flowcontrol.apiserver.k8s.io":  {},
	"node.k8s.io":                   {},
	"scheduling.k8s.io":             {},
	"internal.apiserver.k8s.io":     {},
	"metrics.k8s.io":                {},
	"snapshot.storage.k8s.io":       {},
}

// Categorize returns the category of the given manifest.
// It is a pure function of the object's kind and API group and never fails;
// any object in a non-built-in group classifies as CustomResource, even
// when its kind collides with a well-known name. Unknown kinds in a
// built-in group classify as Other.
func Categorize(object *unstructured.Unstructured) Category {
	group := object.GroupVersionKind().Group
	if _, builtin := builtinGroups[group]; !builtin {
		return CustomResource
	}

	if c, ok := kindCategories[object.GetKind()]; ok {
		return c
	}

	return Other
}

// Rank returns the position of the category in the apply order.
// CRDs come first so that custom resources can be applied after their
// definitions are established; custom resources come last.
func Rank(c Category) int {
	return int(c)
}

// KindOrder overrides the category ranks for specific kinds. Kinds
// listed in First sort before every category, kinds listed in Last
// after every category; within a list the declared order wins.
type KindOrder struct {
	First []string
	Last  []string
}

// ReconcileOrder is the kind order consulted by RankObject. Commands
// replace it at startup with the configured overrides.
var ReconcileOrder = KindOrder{}

// RankObject returns the apply-order rank of the object, honoring the
// ReconcileOrder overrides before falling back to the category rank.
func RankObject(object *unstructured.Unstructured) int {
	kind := object.GetKind()
	for i, k := range ReconcileOrder.First {
		if k == kind {
			return i - len(ReconcileOrder.First)
		}
	}
	for i, k := range ReconcileOrder.Last {
		if k == kind {
			return int(CustomResource) + 1 + i
		}
	}
	return Rank(Categorize(object))
}
