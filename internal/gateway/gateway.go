/*
Copyright 2026.

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

// Package gateway is a thin typed facade over the Kubernetes API for exactly
// the object kinds the service manages: ConfigMaps, PersistentVolumeClaims,
// Deployments, Services, and Ingresses. It normalizes upstream errors into
// sentinel kinds and keeps all namespace handling in one place. The gateway
// never invents objects on NotFound and holds no cache.
package gateway

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Gateway wraps a controller-runtime client scoped to one namespace.
type Gateway struct {
	c         client.Client
	namespace string
}

// New returns a Gateway operating in the given namespace.
func New(c client.Client, namespace string) *Gateway {
	return &Gateway{c: c, namespace: namespace}
}

// Namespace returns the namespace all operations are scoped to.
func (g *Gateway) Namespace() string { return g.namespace }

func (g *Gateway) key(name string) types.NamespacedName {
	return types.NamespacedName{Namespace: g.namespace, Name: name}
}

// ── ConfigMaps ──────────────────────────────────────────────────────

// EnsureConfigMap creates the ConfigMap, returning the live object if it
// already exists. Idempotent.
func (g *Gateway) EnsureConfigMap(ctx context.Context, cm *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	cm.Namespace = g.namespace
	if err := g.c.Create(ctx, cm); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return g.GetConfigMap(ctx, cm.Name)
		}
		return nil, wrap("create configmap", cm.Name, err)
	}
	return cm, nil
}

// GetConfigMap fetches a ConfigMap by name.
func (g *Gateway) GetConfigMap(ctx context.Context, name string) (*corev1.ConfigMap, error) {
	cm := &corev1.ConfigMap{}
	if err := g.c.Get(ctx, g.key(name), cm); err != nil {
		return nil, wrap("get configmap", name, err)
	}
	return cm, nil
}

// PatchConfigMapData merge-patches the given keys into the ConfigMap's data,
// leaving other keys untouched.
func (g *Gateway) PatchConfigMapData(ctx context.Context, name string, data map[string]string) error {
	cm, err := g.GetConfigMap(ctx, name)
	if err != nil {
		return err
	}
	patched := cm.DeepCopy()
	if patched.Data == nil {
		patched.Data = make(map[string]string, len(data))
	}
	for k, v := range data {
		patched.Data[k] = v
	}
	if err := g.c.Patch(ctx, patched, client.MergeFrom(cm)); err != nil {
		return wrap("patch configmap", name, err)
	}
	return nil
}

// DeleteConfigMap deletes a ConfigMap by name.
func (g *Gateway) DeleteConfigMap(ctx context.Context, name string) error {
	cm := &corev1.ConfigMap{}
	cm.Name = name
	cm.Namespace = g.namespace
	return wrap("delete configmap", name, g.c.Delete(ctx, cm))
}

// ListConfigMaps lists ConfigMaps matching the label set.
func (g *Gateway) ListConfigMaps(ctx context.Context, labels map[string]string) (*corev1.ConfigMapList, error) {
	list := &corev1.ConfigMapList{}
	opts := []client.ListOption{client.InNamespace(g.namespace), client.MatchingLabels(labels)}
	if err := g.c.List(ctx, list, opts...); err != nil {
		return nil, wrap("list configmaps", "", err)
	}
	return list, nil
}

// ── PersistentVolumeClaims ──────────────────────────────────────────

// EnsurePVC creates the claim, returning the live object if it already
// exists. Used for both the per-instance workspace claim and the per-user
// shared claim.
func (g *Gateway) EnsurePVC(ctx context.Context, pvc *corev1.PersistentVolumeClaim) (*corev1.PersistentVolumeClaim, error) {
	pvc.Namespace = g.namespace
	if err := g.c.Create(ctx, pvc); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return g.GetPVC(ctx, pvc.Name)
		}
		return nil, wrap("create pvc", pvc.Name, err)
	}
	return pvc, nil
}

// GetPVC fetches a claim by name.
func (g *Gateway) GetPVC(ctx context.Context, name string) (*corev1.PersistentVolumeClaim, error) {
	pvc := &corev1.PersistentVolumeClaim{}
	if err := g.c.Get(ctx, g.key(name), pvc); err != nil {
		return nil, wrap("get pvc", name, err)
	}
	return pvc, nil
}

// DeletePVC deletes a claim by name.
func (g *Gateway) DeletePVC(ctx context.Context, name string) error {
	pvc := &corev1.PersistentVolumeClaim{}
	pvc.Name = name
	pvc.Namespace = g.namespace
	return wrap("delete pvc", name, g.c.Delete(ctx, pvc))
}

// ── Deployments ─────────────────────────────────────────────────────

// EnsureDeployment creates the workload, returning the live object if it
// already exists.
func (g *Gateway) EnsureDeployment(ctx context.Context, deploy *appsv1.Deployment) (*appsv1.Deployment, error) {
	deploy.Namespace = g.namespace
	if err := g.c.Create(ctx, deploy); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return g.GetDeployment(ctx, deploy.Name)
		}
		return nil, wrap("create deployment", deploy.Name, err)
	}
	return deploy, nil
}

// GetDeployment fetches a workload by name.
func (g *Gateway) GetDeployment(ctx context.Context, name string) (*appsv1.Deployment, error) {
	deploy := &appsv1.Deployment{}
	if err := g.c.Get(ctx, g.key(name), deploy); err != nil {
		return nil, wrap("get deployment", name, err)
	}
	return deploy, nil
}

// DeleteDeployment deletes a workload by name.
func (g *Gateway) DeleteDeployment(ctx context.Context, name string) error {
	deploy := &appsv1.Deployment{}
	deploy.Name = name
	deploy.Namespace = g.namespace
	return wrap("delete deployment", name, g.c.Delete(ctx, deploy))
}

// ── Services ────────────────────────────────────────────────────────

// EnsureService creates the service, returning the live object if it
// already exists.
func (g *Gateway) EnsureService(ctx context.Context, svc *corev1.Service) (*corev1.Service, error) {
	svc.Namespace = g.namespace
	if err := g.c.Create(ctx, svc); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return g.GetService(ctx, svc.Name)
		}
		return nil, wrap("create service", svc.Name, err)
	}
	return svc, nil
}

// GetService fetches a service by name.
func (g *Gateway) GetService(ctx context.Context, name string) (*corev1.Service, error) {
	svc := &corev1.Service{}
	if err := g.c.Get(ctx, g.key(name), svc); err != nil {
		return nil, wrap("get service", name, err)
	}
	return svc, nil
}

// DeleteService deletes a service by name.
func (g *Gateway) DeleteService(ctx context.Context, name string) error {
	svc := &corev1.Service{}
	svc.Name = name
	svc.Namespace = g.namespace
	return wrap("delete service", name, g.c.Delete(ctx, svc))
}

// ── Ingresses ───────────────────────────────────────────────────────

// EnsureIngress creates the ingress, returning the live object if it
// already exists.
func (g *Gateway) EnsureIngress(ctx context.Context, ing *networkingv1.Ingress) (*networkingv1.Ingress, error) {
	ing.Namespace = g.namespace
	if err := g.c.Create(ctx, ing); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return g.GetIngress(ctx, ing.Name)
		}
		return nil, wrap("create ingress", ing.Name, err)
	}
	return ing, nil
}

// GetIngress fetches an ingress by name.
func (g *Gateway) GetIngress(ctx context.Context, name string) (*networkingv1.Ingress, error) {
	ing := &networkingv1.Ingress{}
	if err := g.c.Get(ctx, g.key(name), ing); err != nil {
		return nil, wrap("get ingress", name, err)
	}
	return ing, nil
}

// DeleteIngress deletes an ingress by name.
func (g *Gateway) DeleteIngress(ctx context.Context, name string) error {
	ing := &networkingv1.Ingress{}
	ing.Name = name
	ing.Namespace = g.namespace
	return wrap("delete ingress", name, g.c.Delete(ctx, ing))
}
