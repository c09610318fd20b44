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

package ownership

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	storageName       = "crdpack-crd-ownership"
	componentName     = "crd-ownership"
	nameLabelKey      = "app.kubernetes.io/name"
	componentLabelKey = "app.kubernetes.io/component"
	createdByLabelKey = "app.kubernetes.io/created-by"
)

// ConfigMapStore persists ownership records in a cluster ConfigMap so
// that conflicts and idempotent re-apply survive process restarts.
// One data key per CRD identity, value is the JSON encoded Record.
type ConfigMapStore struct {
	Client     client.Client
	Namespace  string
	FieldOwner string
	OwnerGroup string
}

var _ Store = (*ConfigMapStore)(nil)

func (s *ConfigMapStore) GetOwner(ctx context.Context, id schema.GroupKind) (*Record, error) {
	cm := s.newConfigMap()
	if err := s.Client.Get(ctx, client.ObjectKeyFromObject(cm), cm); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ownership query failed, error: %w", err)
	}

	data, ok := cm.Data[id.String()]
	if !ok {
		return nil, nil
	}

	record := &Record{}
	if err := json.Unmarshal([]byte(data), record); err != nil {
		return nil, fmt.Errorf("ownership record for %s is unreadable, error: %w", id, err)
	}
	return record, nil
}

func (s *ConfigMapStore) SetOwner(ctx context.Context, id schema.GroupKind, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	cm := s.newConfigMap()
	existing := cm.DeepCopy()
	if err := s.Client.Get(ctx, client.ObjectKeyFromObject(existing), existing); err == nil {
		cm.Data = existing.Data
	} else if !apierrors.IsNotFound(err) {
		return fmt.Errorf("ownership query failed, error: %w", err)
	}

	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[id.String()] = string(data)
	cm.Annotations = map[string]string{
		s.OwnerGroup + "/last-applied-time": time.Now().UTC().Format(time.RFC3339),
	}

	return s.apply(ctx, cm)
}

func (s *ConfigMapStore) ClearOwner(ctx context.Context, id schema.GroupKind) error {
	cm := s.newConfigMap()
	if err := s.Client.Get(ctx, client.ObjectKeyFromObject(cm), cm); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("ownership query failed, error: %w", err)
	}

	if _, ok := cm.Data[id.String()]; !ok {
		return nil
	}
	delete(cm.Data, id.String())

	return s.apply(ctx, s.withClean(cm))
}

func (s *ConfigMapStore) apply(ctx context.Context, cm *corev1.ConfigMap) error {
	opts := []client.PatchOption{
		client.ForceOwnership,
		client.FieldOwner(s.FieldOwner),
	}
	return s.Client.Patch(ctx, cm, client.Apply, opts...)
}

// withClean strips server populated metadata so the object is a valid
// apply configuration again.
func (s *ConfigMapStore) withClean(cm *corev1.ConfigMap) *corev1.ConfigMap {
	clean := s.newConfigMap()
	clean.Data = cm.Data
	clean.Annotations = cm.Annotations
	return clean
}

func (s *ConfigMapStore) newConfigMap() *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "ConfigMap",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      storageName,
			Namespace: s.Namespace,
			Labels: map[string]string{
				nameLabelKey:      storageName,
				componentLabelKey: componentName,
				createdByLabelKey: s.FieldOwner,
			},
		},
	}
}
