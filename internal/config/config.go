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

// Package config collects the service configuration from the environment
// once at startup. All per-instance state lives in the cluster; this is the
// only process-level configuration there is.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	apiv1 "github.com/jeffvincent/devspawn/api/v1"
)

// Service identity reported on the root and health endpoints.
const (
	ServiceName    = "VS Code DevContainer Manager API"
	ServiceSlug    = "vscode-devcontainer-manager"
	ServiceVersion = "2.0.0"
)

// Config is the resolved service configuration.
type Config struct {
	// Namespace is the Kubernetes namespace all objects are created in.
	Namespace string

	// BaseDomain is the public hostname instances are served under.
	BaseDomain string

	// Registry is the declared registry address (REGISTRY env).
	Registry string

	// PullRegistry is the registry address pod specs reference.
	PullRegistry string

	// PushRegistry is the registry address the builder pushes through. May
	// differ from PullRegistry when pods pull via a node-local address.
	PushRegistry string

	// TLSSecretName is the shared TLS secret referenced by every ingress.
	TLSSecretName string

	// DockerHost is passed through to the build subprocesses when set.
	DockerHost string

	// BuildRoot is the scratch directory for workspace materialization.
	BuildRoot string

	// Defaults are the fallback values for create requests.
	Defaults apiv1.Defaults
}

// Load reads the environment and returns the service configuration. Pull
// and push registry both start as the declared registry; call
// ResolveRegistries to split them.
func Load() *Config {
	registry := getenv("REGISTRY", "localhost:32000")
	return &Config{
		Namespace:     getenv("KUBERNETES_NAMESPACE", "vscode-system"),
		BaseDomain:    getenv("BASE_DOMAIN", "vscode.local"),
		Registry:      registry,
		PullRegistry:  registry,
		PushRegistry:  registry,
		TLSSecretName: getenv("TLS_SECRET_NAME", "vscode-server-tls"),
		DockerHost:    os.Getenv("DOCKER_HOST"),
		BuildRoot:     getenv("DEVCONTAINER_BUILD_PATH", "/tmp/devcontainer-builds"),
		Defaults: apiv1.Defaults{
			StorageSize:       "2Gi",
			SharedStorageSize: "5Gi",
			MemoryRequest:     "512Mi",
			MemoryLimit:       "2Gi",
			CPURequest:        "200m",
			CPULimit:          "1000m",
			BaseImage:         "ubuntu:22.04",
			VSCodeVersion:     "1.97.2",
		},
	}
}

// ResolveRegistries splits the declared registry into pull and push roles.
// Pods pull through the declared address; when that address is node-local
// (localhost or 127.0.0.1) the builder cannot push through it, so the push
// address is rewritten to the first node InternalIP found. Any failure
// leaves both roles on the declared registry.
func (c *Config) ResolveRegistries(ctx context.Context, reader client.Reader) {
	host, port, ok := strings.Cut(c.Registry, ":")
	if !ok || (host != "localhost" && host != "127.0.0.1") {
		return
	}

	nodes := &corev1.NodeList{}
	if err := reader.List(ctx, nodes); err != nil {
		return
	}
	for _, node := range nodes.Items {
		for _, addr := range node.Status.Addresses {
			if addr.Type == corev1.NodeInternalIP && addr.Address != "" {
				c.PushRegistry = fmt.Sprintf("%s:%s", addr.Address, port)
				return
			}
		}
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
