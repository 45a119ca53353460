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

// Package naming derives every identifier the service places in the cluster:
// instance ids, connection tokens, object names, URL paths, and labels. All
// object names for one instance share the instance id prefix, which is what
// lets teardown find the whole set without any server-side state.
package naming

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	// App is the value of the "app" label on every object the service owns.
	App = "vscode-server"

	// LabelApp, LabelInstance and LabelUser are the label keys applied to
	// managed objects.
	LabelApp      = "app"
	LabelInstance = "instance"
	LabelUser     = "user"

	// InstancePathPrefix is the URL prefix under which instances are served.
	InstancePathPrefix = "/instances"

	// suffixHexLen is the number of hex characters appended to the user id.
	suffixHexLen = 8

	// longestSuffix is the longest name suffix derived from an instance id
	// ("-build-status"). Instance ids must leave room for it within the
	// 63-character DNS label limit.
	longestSuffix = len("-build-status")
)

// ErrInvalidUserID is returned when a user id cannot produce valid object
// names under Kubernetes naming rules.
var ErrInvalidUserID = errors.New("invalid user id")

// ValidateUserID checks that the user id is a lowercase DNS-1123 label short
// enough that every derived object name stays within 63 characters.
func ValidateUserID(userID string) error {
	if msgs := validation.IsDNS1123Label(userID); len(msgs) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidUserID, userID, strings.Join(msgs, "; "))
	}
	if len(userID)+1+suffixHexLen+longestSuffix > validation.DNS1123LabelMaxLength {
		return fmt.Errorf("%w %q: too long for derived object names", ErrInvalidUserID, userID)
	}
	return nil
}

// InstanceID returns "<user_id>-<8 hex>" with a fresh random suffix. Two
// calls for the same user id collide only with negligible probability.
func InstanceID(userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	u := uuid.New()
	return userID + "-" + hex.EncodeToString(u[:suffixHexLen/2]), nil
}

// AccessToken returns an opaque 32-character lowercase hex token. The VS
// Code CLI rejects connection tokens containing '-', so no separator is ever
// included.
func AccessToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// InstancePath returns the URL path prefix an instance is served under. The
// editor's server-base-path must equal this exactly so generated URLs stay
// relative.
func InstancePath(instanceID string) string {
	return InstancePathPrefix + "/" + instanceID
}

// ConfigName is the session configuration ConfigMap for an instance.
func ConfigName(instanceID string) string { return instanceID + "-config" }

// BuildStatusName is the build tracker ConfigMap for an instance.
func BuildStatusName(instanceID string) string { return instanceID + "-build-status" }

// BuildLogsName is the build logs ConfigMap for an instance.
func BuildLogsName(instanceID string) string { return instanceID + "-build-logs" }

// WorkspacePVCName is the per-instance workspace volume claim.
func WorkspacePVCName(instanceID string) string { return instanceID + "-workspace" }

// SharedPVCName is the per-user shared volume claim. It is keyed by user,
// not instance, and is never deleted with an instance.
func SharedPVCName(userID string) string { return userID + "-shared" }

// DeploymentName is the workload name for an instance.
func DeploymentName(instanceID string) string { return instanceID }

// ServiceName is the network service name for an instance.
func ServiceName(instanceID string) string { return instanceID + "-service" }

// IngressName is the ingress route name for an instance.
func IngressName(instanceID string) string { return instanceID + "-ingress" }

// DevcontainerImage returns the image reference for an instance's built
// devcontainer image on the given registry.
func DevcontainerImage(registry, instanceID string) string {
	return registry + "/vscode-devcontainer-" + instanceID + ":latest"
}

// InstanceLabels returns the labels selecting one instance's objects.
func InstanceLabels(instanceID string) map[string]string {
	return map[string]string{
		LabelApp:      App,
		LabelInstance: instanceID,
	}
}

// InstanceUserLabels returns the instance labels plus the owning user.
func InstanceUserLabels(instanceID, userID string) map[string]string {
	labels := InstanceLabels(instanceID)
	labels[LabelUser] = userID
	return labels
}

// SharedPVCLabels returns the labels for a user's shared claim.
func SharedPVCLabels(userID string) map[string]string {
	return map[string]string{
		LabelApp:  App,
		LabelUser: userID,
		"type":    "shared",
	}
}
