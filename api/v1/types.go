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

// Package v1 holds the wire types of the devspawn HTTP API: the request and
// response bodies exchanged with clients, plus their defaulting and
// validation rules. Field names follow the snake_case format the service has
// always spoken.
package v1

import (
	"errors"
	"fmt"
	"regexp"
)

// Instance status values reported to clients.
const (
	StatusCreating  = "Creating"
	StatusQueued    = "Queued"
	StatusBuilding  = "Building"
	StatusDeploying = "Deploying"
	StatusRunning   = "Running"
	StatusPending   = "Pending"
	StatusDeleted   = "Deleted"
	StatusNotFound  = "NotFound"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// baseImageRE accepts plain image references (name, registry/name, name:tag)
// and rejects anything that could smuggle flags or shell metacharacters into
// the build.
var baseImageRE = regexp.MustCompile(`^[A-Za-z0-9][-A-Za-z0-9_./:]*$`)

// ErrInvalidRequest marks client errors that should surface as HTTP 400.
var ErrInvalidRequest = errors.New("invalid request")

// Defaults carries the server-side fallback values applied to create
// requests that omit optional fields.
type Defaults struct {
	StorageSize       string
	SharedStorageSize string
	MemoryRequest     string
	MemoryLimit       string
	CPURequest        string
	CPULimit          string
	BaseImage         string
	VSCodeVersion     string
}

// VSCodeServerRequest is the body of POST /instances/simple and the form
// fields of the multipart create endpoints. Sizes and CPU values use
// Kubernetes quantity syntax.
type VSCodeServerRequest struct {
	UserID            string `json:"user_id"`
	StorageSize       string `json:"storage_size,omitempty"`
	SharedStorageSize string `json:"shared_storage_size,omitempty"`
	MemoryRequest     string `json:"memory_request,omitempty"`
	MemoryLimit       string `json:"memory_limit,omitempty"`
	CPURequest        string `json:"cpu_request,omitempty"`
	CPULimit          string `json:"cpu_limit,omitempty"`
	BaseImage         string `json:"base_image,omitempty"`
	VSCodeVersion     string `json:"vscode_version,omitempty"`
}

// ApplyDefaults fills empty optional fields from the server defaults.
func (r *VSCodeServerRequest) ApplyDefaults(d Defaults) {
	if r.StorageSize == "" {
		r.StorageSize = d.StorageSize
	}
	if r.SharedStorageSize == "" {
		r.SharedStorageSize = d.SharedStorageSize
	}
	if r.MemoryRequest == "" {
		r.MemoryRequest = d.MemoryRequest
	}
	if r.MemoryLimit == "" {
		r.MemoryLimit = d.MemoryLimit
	}
	if r.CPURequest == "" {
		r.CPURequest = d.CPURequest
	}
	if r.CPULimit == "" {
		r.CPULimit = d.CPULimit
	}
	if r.BaseImage == "" {
		r.BaseImage = d.BaseImage
	}
	if r.VSCodeVersion == "" {
		r.VSCodeVersion = d.VSCodeVersion
	}
}

// Validate checks the request after defaulting. user_id presence is checked
// here; its syntax is enforced by the naming package when the instance id is
// derived.
func (r *VSCodeServerRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if !baseImageRE.MatchString(r.BaseImage) {
		return fmt.Errorf("%w: invalid base image format %q", ErrInvalidRequest, r.BaseImage)
	}
	return nil
}

// VSCodeServerResponse describes one instance to the client.
type VSCodeServerResponse struct {
	InstanceID        string `json:"instance_id"`
	URL               string `json:"url"`
	AccessToken       string `json:"access_token"`
	Status            string `json:"status"`
	BaseImage         string `json:"base_image"`
	DevcontainerImage string `json:"devcontainer_image,omitempty"`
	BuildLogsURL      string `json:"build_logs_url,omitempty"`
}

// VSCodeServerList is the body of GET /instances.
type VSCodeServerList struct {
	Instances []VSCodeServerResponse `json:"instances"`
}

// BuildStatusResponse is the body of GET /instances/{id}/build-status.
type BuildStatusResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// BuildLogsResponse is the body of GET /instances/{id}/build-logs.
type BuildLogsResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	Logs       string `json:"logs"`
}

// DeleteResponse is the body of DELETE /instances/{id}.
type DeleteResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
}
