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

// Package template renders the Kubernetes objects that realize one VS Code
// Server session: configuration record, volume claims, workload, service,
// and ingress route. Builders are pure functions of Params so they can be
// tested without a cluster.
package template

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/jeffvincent/devspawn/internal/devcontainer"
	"github.com/jeffvincent/devspawn/internal/naming"
)

// serverPort is the fixed port the editor serves on inside the pod.
const serverPort = 8000

// Container filesystem layout for the editor's data directories.
const (
	cliDataDir    = "/home/vscode/.vscode/cli-data"
	userDataDir   = "/home/vscode/.vscode/user-data"
	serverDataDir = "/home/vscode/.vscode/server-data"
	extensionsDir = "/home/vscode/.vscode/extensions"
)

// Params holds everything needed to render one session's objects.
type Params struct {
	InstanceID  string
	UserID      string
	AccessToken string

	BaseImage         string
	DevcontainerImage string
	VSCodeVersion     string

	StorageSize       string
	SharedStorageSize string
	MemoryRequest     string
	MemoryLimit       string
	CPURequest        string
	CPULimit          string

	BaseDomain    string
	TLSSecretName string

	Customizations devcontainer.VSCodeCustomizations
}

// Image returns the image the pod runs: the built devcontainer image when
// present, the base image otherwise.
func (p Params) Image() string {
	if p.DevcontainerImage != "" {
		return p.DevcontainerImage
	}
	return p.BaseImage
}

// ConfigMap renders the session configuration record, the authoritative
// source of the instance's runtime parameters.
func ConfigMap(p Params) (*corev1.ConfigMap, error) {
	customizations, err := p.Customizations.Encode()
	if err != nil {
		return nil, err
	}
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.ConfigName(p.InstanceID),
			Labels: naming.InstanceLabels(p.InstanceID),
		},
		Data: map[string]string{
			"PORT":                  fmt.Sprintf("%d", serverPort),
			"HOST":                  "0.0.0.0",
			"TOKEN":                 p.AccessToken,
			"CLI_DATA_DIR":          cliDataDir,
			"USER_DATA_DIR":         userDataDir,
			"SERVER_DATA_DIR":       serverDataDir,
			"EXTENSIONS_DIR":        extensionsDir,
			"BASE_IMAGE":            p.BaseImage,
			"DEVCONTAINER_IMAGE":    p.DevcontainerImage,
			"VSCODE_VERSION":        p.VSCodeVersion,
			"VSCODE_CUSTOMIZATIONS": customizations,
		},
	}, nil
}

// WorkspacePVC renders the per-instance workspace claim.
func WorkspacePVC(p Params) (*corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(p.StorageSize)
	if err != nil {
		return nil, fmt.Errorf("invalid storage size %q: %w", p.StorageSize, err)
	}
	labels := naming.InstanceLabels(p.InstanceID)
	labels["type"] = "workspace"
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.WorkspacePVCName(p.InstanceID),
			Labels: labels,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}, nil
}

// SharedPVC renders a user's shared claim. ReadWriteOnce means only one
// instance of the user can actually mount it at a time; this mirrors the
// storage class commonly available and is not enforced by the service.
func SharedPVC(userID, storageSize string) (*corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(storageSize)
	if err != nil {
		return nil, fmt.Errorf("invalid shared storage size %q: %w", storageSize, err)
	}
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.SharedPVCName(userID),
			Labels: naming.SharedPVCLabels(userID),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}, nil
}

// Deployment renders the session workload: one container that starts as
// root, bootstraps the editor via the launch script, and drops to the
// unprivileged vscode user.
func Deployment(p Params) (*appsv1.Deployment, error) {
	script, err := LaunchScript(p)
	if err != nil {
		return nil, err
	}
	resources, err := buildResources(p)
	if err != nil {
		return nil, err
	}

	selector := naming.InstanceLabels(p.InstanceID)
	podLabels := naming.InstanceUserLabels(p.InstanceID, p.UserID)
	replicas := int32(1)
	rootUID := int64(0)

	container := corev1.Container{
		Name:            naming.App,
		Image:           p.Image(),
		ImagePullPolicy: corev1.PullAlways,
		Command:         []string{"/bin/bash", "-c"},
		Args:            []string{script},
		Ports: []corev1.ContainerPort{{
			ContainerPort: serverPort,
			Protocol:      corev1.ProtocolTCP,
		}},
		EnvFrom: []corev1.EnvFromSource{{
			ConfigMapRef: &corev1.ConfigMapEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{
					Name: naming.ConfigName(p.InstanceID),
				},
			},
		}},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "workspace", MountPath: "/workspace"},
			{Name: "shared", MountPath: "/shared"},
			{Name: "vscode-config", MountPath: "/home/vscode/.vscode"},
		},
		Resources: resources,
		SecurityContext: &corev1.SecurityContext{
			RunAsUser: &rootUID,
		},
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.DeploymentName(p.InstanceID),
			Labels: podLabels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes: []corev1.Volume{
						{
							Name: "workspace",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: naming.WorkspacePVCName(p.InstanceID),
								},
							},
						},
						{
							Name: "shared",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: naming.SharedPVCName(p.UserID),
								},
							},
						},
						{
							Name: "vscode-config",
							VolumeSource: corev1.VolumeSource{
								EmptyDir: &corev1.EmptyDirVolumeSource{},
							},
						},
					},
				},
			},
		},
	}, nil
}

// Service renders the ClusterIP service selecting the session workload.
func Service(p Params) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.ServiceName(p.InstanceID),
			Labels: naming.InstanceLabels(p.InstanceID),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: naming.InstanceLabels(p.InstanceID),
			Ports: []corev1.ServicePort{{
				Port:       serverPort,
				TargetPort: intstr.FromInt(serverPort),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

// Ingress renders the per-instance route. The path prefix must equal the
// editor's server-base-path exactly so generated URLs stay relative. The
// long proxy timeouts and buffer annotations keep WebSocket sessions alive
// through nginx.
func Ingress(p Params) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix
	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.IngressName(p.InstanceID),
			Labels: naming.InstanceLabels(p.InstanceID),
			Annotations: map[string]string{
				"nginx.ingress.kubernetes.io/backend-protocol":   "HTTP",
				"nginx.ingress.kubernetes.io/proxy-read-timeout": "3600",
				"nginx.ingress.kubernetes.io/proxy-send-timeout": "3600",
				"nginx.ingress.kubernetes.io/proxy-body-size":    "0",
				"nginx.ingress.kubernetes.io/proxy-buffer-size":  "128k",
				"nginx.ingress.kubernetes.io/proxy-http-version": "1.1",
				"nginx.ingress.kubernetes.io/websocket-services": naming.ServiceName(p.InstanceID),
			},
		},
		Spec: networkingv1.IngressSpec{
			TLS: []networkingv1.IngressTLS{{
				Hosts:      []string{p.BaseDomain},
				SecretName: p.TLSSecretName,
			}},
			Rules: []networkingv1.IngressRule{{
				Host: p.BaseDomain,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     naming.InstancePath(p.InstanceID),
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: naming.ServiceName(p.InstanceID),
									Port: networkingv1.ServiceBackendPort{Number: serverPort},
								},
							},
						}},
					},
				},
			}},
		},
	}
}

func buildResources(p Params) (corev1.ResourceRequirements, error) {
	parse := func(field, value string) (resource.Quantity, error) {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q: %w", field, value, err)
		}
		return q, nil
	}

	memReq, err := parse("memory request", p.MemoryRequest)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	memLim, err := parse("memory limit", p.MemoryLimit)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	cpuReq, err := parse("cpu request", p.CPURequest)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	cpuLim, err := parse("cpu limit", p.CPULimit)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}

	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceMemory: memReq,
			corev1.ResourceCPU:    cpuReq,
		},
		Limits: corev1.ResourceList{
			corev1.ResourceMemory: memLim,
			corev1.ResourceCPU:    cpuLim,
		},
	}, nil
}
