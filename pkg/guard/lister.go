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

package guard

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/crdpack/crdpack/pkg/crd"
)

// ClientLister counts instances with a single list call: one item plus
// the server's remaining item count, instead of paging through every
// instance.
type ClientLister struct {
	Client client.Client
}

func (l *ClientLister) CountInstances(ctx context.Context, schema *crd.Schema) (int64, error) {
	version := schema.StorageVersion()
	if version == "" && len(schema.Versions) > 0 {
		version = schema.Versions[0].Name
	}

	listKind := schema.ListKind
	if listKind == "" {
		listKind = schema.Kind + "List"
	}

	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(schema.GroupVersionKind(version).GroupVersion().WithKind(listKind))

	if err := l.Client.List(ctx, list, client.Limit(1)); err != nil {
		if apierrors.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing %s failed, error: %w", schema.Name, err)
	}

	count := int64(len(list.Items))
	if remaining := list.GetRemainingItemCount(); remaining != nil {
		count += *remaining
	}
	return count, nil
}
