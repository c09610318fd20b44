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
	"context"
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/crdpack/crdpack/pkg/crd"
	"github.com/crdpack/crdpack/pkg/objectutil"
)

// Cluster implements the engine's cluster capabilities and the waiter's
// StatusReader on top of a controller-runtime client. All writes are
// server-side applies under the configured field owner.
type Cluster struct {
	Client     client.Client
	FieldOwner string
}

func (c *Cluster) GetCRD(ctx context.Context, name string) (*crd.Schema, error) {
	var def apiextensionsv1.CustomResourceDefinition
	if err := c.Client.Get(ctx, types.NamespacedName{Name: name}, &def); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return crd.FromDefinition(&def)
}

func (c *Cluster) ApplyCRD(ctx context.Context, object *unstructured.Unstructured) error {
	return c.patchApply(ctx, object.DeepCopy())
}

func (c *Cluster) DeleteCRD(ctx context.Context, name string) error {
	def := &apiextensionsv1.CustomResourceDefinition{}
	def.SetName(name)
	if err := c.Client.Delete(ctx, def); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

// ApplyResource performs a server-side apply of the given object.
// Drift detection is performed with a dry-run apply first, so unchanged
// objects do not get their resource version bumped.
func (c *Cluster) ApplyResource(ctx context.Context, object *unstructured.Unstructured) (Action, error) {
	existingObject := object.DeepCopy()
	_ = c.Client.Get(ctx, client.ObjectKeyFromObject(object), existingObject)

	dryRunObject := object.DeepCopy()
	if err := c.patchApply(ctx, dryRunObject, client.DryRunAll); err != nil {
		return "", fmt.Errorf("%s dry-run failed, error: %w", objectutil.FmtUnstructured(object), err)
	}

	if dryRunObject.GetResourceVersion() != "" &&
		dryRunObject.GetGeneration() == existingObject.GetGeneration() &&
		dryRunObject.GetResourceVersion() == existingObject.GetResourceVersion() {
		return UnchangedAction, nil
	}

	appliedObject := object.DeepCopy()
	if err := c.patchApply(ctx, appliedObject); err != nil {
		return "", fmt.Errorf("%s apply failed, error: %w", objectutil.FmtUnstructured(object), err)
	}

	if dryRunObject.GetResourceVersion() == "" {
		return CreatedAction, nil
	}
	return ConfiguredAction, nil
}

// DeleteResource deletes the given object, ignoring not found errors.
func (c *Cluster) DeleteResource(ctx context.Context, object *unstructured.Unstructured) error {
	existingObject := object.DeepCopy()
	err := c.Client.Get(ctx, client.ObjectKeyFromObject(object), existingObject)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%s query failed, error: %w", objectutil.FmtUnstructured(object), err)
	}
	if err := c.Client.Delete(ctx, existingObject); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("%s delete failed, error: %w", objectutil.FmtUnstructured(object), err)
	}
	return nil
}

// Status returns the current conditions of the named CRD, implementing
// the waiter's StatusReader.
func (c *Cluster) Status(ctx context.Context, name string) ([]apiextensionsv1.CustomResourceDefinitionCondition, error) {
	var def apiextensionsv1.CustomResourceDefinition
	if err := c.Client.Get(ctx, types.NamespacedName{Name: name}, &def); err != nil {
		return nil, err
	}
	return def.Status.Conditions, nil
}

func (c *Cluster) patchApply(ctx context.Context, object *unstructured.Unstructured, extra ...client.PatchOption) error {
	opts := append([]client.PatchOption{
		client.ForceOwnership,
		client.FieldOwner(c.FieldOwner),
	}, extra...)
	return c.Client.Patch(ctx, object, client.Apply, opts...)
}
