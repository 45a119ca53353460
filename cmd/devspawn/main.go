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

// devspawn provisions per-user browser VS Code Server instances on a
// Kubernetes cluster, building devcontainer images on demand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "devspawn",
	Short: "devspawn — browser VS Code instances on Kubernetes",
	Long: `devspawn is the control-plane API for per-user VS Code Server
sessions. Each instance gets its own workspace volume, workload, service
and ingress route; devcontainer-backed instances are built asynchronously
and pushed to the cluster registry.

Run it in-cluster with a service account that can manage ConfigMaps,
PersistentVolumeClaims, Deployments, Services and Ingresses in its
namespace:

  devspawn serve --listen :8000`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
