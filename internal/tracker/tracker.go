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

// Package tracker persists build job state and build logs as ConfigMaps so
// the service itself stays stateless. A restarted process reads exactly the
// same picture of in-flight builds as the one that started them. State
// transitions are decided by the caller; the tracker only records them.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apiv1 "github.com/jeffvincent/devspawn/api/v1"
	"github.com/jeffvincent/devspawn/internal/gateway"
	"github.com/jeffvincent/devspawn/internal/naming"
)

// Build job states. Terminal states are completed and failed.
const (
	StateQueued    = "queued"
	StateBuilding  = "building"
	StateDeploying = "deploying"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Record data keys inside the build-status ConfigMap.
const (
	keyState     = "state"
	keyError     = "error"
	keyUserID    = "user_id"
	keyToken     = "token"
	keyImage     = "devcontainer_image"
	keyRequest   = "request"
	keyCreatedAt = "created_at"
)

// Record is one build job's tracked state plus the parameter set embedded at
// enqueue time, which lets status queries answer before any other object for
// the instance exists.
type Record struct {
	InstanceID        string
	State             string
	Error             string
	UserID            string
	Token             string
	DevcontainerImage string
	Request           apiv1.VSCodeServerRequest
	CreatedAt         time.Time
}

// Terminal reports whether the record reached a final state.
func (r *Record) Terminal() bool {
	return r.State == StateCompleted || r.State == StateFailed
}

// Tracker reads and writes build records through the orchestrator gateway.
type Tracker struct {
	gw *gateway.Gateway
}

// New returns a Tracker backed by the given gateway.
func New(gw *gateway.Gateway) *Tracker {
	return &Tracker{gw: gw}
}

// Start persists the record in state queued. The full parameter set rides
// along so the eventual URL and token are known while the build runs.
func (t *Tracker) Start(ctx context.Context, rec Record) error {
	request, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("encode build request: %w", err)
	}
	labels := naming.InstanceUserLabels(rec.InstanceID, rec.UserID)
	labels["type"] = "build-status"
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.BuildStatusName(rec.InstanceID),
			Labels: labels,
		},
		Data: map[string]string{
			keyState:     StateQueued,
			keyUserID:    rec.UserID,
			keyToken:     rec.Token,
			keyImage:     rec.DevcontainerImage,
			keyRequest:   string(request),
			keyCreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
	if _, err := t.gw.EnsureConfigMap(ctx, cm); err != nil {
		return fmt.Errorf("start build record %s: %w", rec.InstanceID, err)
	}
	return nil
}

// SetState advances the record to the given state.
func (t *Tracker) SetState(ctx context.Context, instanceID, state string) error {
	err := t.gw.PatchConfigMapData(ctx, naming.BuildStatusName(instanceID),
		map[string]string{keyState: state})
	if err != nil {
		return fmt.Errorf("set build state %s=%s: %w", instanceID, state, err)
	}
	return nil
}

// Fail marks the record failed with the error text.
func (t *Tracker) Fail(ctx context.Context, instanceID string, buildErr error) error {
	err := t.gw.PatchConfigMapData(ctx, naming.BuildStatusName(instanceID),
		map[string]string{
			keyState: StateFailed,
			keyError: buildErr.Error(),
		})
	if err != nil {
		return fmt.Errorf("fail build record %s: %w", instanceID, err)
	}
	return nil
}

// Read returns the record for an instance. When the status record is already
// garbage-collected but the instance's configuration record exists, the build
// by definition completed, so a synthesized completed record is returned.
func (t *Tracker) Read(ctx context.Context, instanceID string) (*Record, error) {
	cm, err := t.gw.GetConfigMap(ctx, naming.BuildStatusName(instanceID))
	if err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			return nil, err
		}
		if _, cfgErr := t.gw.GetConfigMap(ctx, naming.ConfigName(instanceID)); cfgErr != nil {
			return nil, cfgErr
		}
		return &Record{InstanceID: instanceID, State: StateCompleted}, nil
	}

	rec := &Record{
		InstanceID:        instanceID,
		State:             cm.Data[keyState],
		Error:             cm.Data[keyError],
		UserID:            cm.Data[keyUserID],
		Token:             cm.Data[keyToken],
		DevcontainerImage: cm.Data[keyImage],
	}
	if raw := cm.Data[keyRequest]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Request); err != nil {
			return nil, fmt.Errorf("decode build request %s: %w", instanceID, err)
		}
	}
	if ts := cm.Data[keyCreatedAt]; ts != "" {
		if created, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.CreatedAt = created
		}
	}
	return rec, nil
}

// Delete removes the status record. Missing records are not an error.
func (t *Tracker) Delete(ctx context.Context, instanceID string) error {
	err := t.gw.DeleteConfigMap(ctx, naming.BuildStatusName(instanceID))
	if err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("delete build record %s: %w", instanceID, err)
	}
	return nil
}

// WriteLogs persists the captured build output for an instance. Logs from a
// retried build replace the previous attempt's.
func (t *Tracker) WriteLogs(ctx context.Context, instanceID, userID, logs string) error {
	labels := naming.InstanceUserLabels(instanceID, userID)
	labels["type"] = "build-logs"
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:   naming.BuildLogsName(instanceID),
			Labels: labels,
		},
		Data: map[string]string{
			"logs":    logs,
			"created": time.Now().UTC().Format(time.RFC3339),
		},
	}
	existing, err := t.gw.EnsureConfigMap(ctx, cm)
	if err != nil {
		return fmt.Errorf("write build logs %s: %w", instanceID, err)
	}
	if existing.Data["logs"] == logs {
		return nil
	}
	return t.gw.PatchConfigMapData(ctx, naming.BuildLogsName(instanceID),
		map[string]string{"logs": logs})
}

// ReadLogs returns the captured build output for an instance.
func (t *Tracker) ReadLogs(ctx context.Context, instanceID string) (string, error) {
	cm, err := t.gw.GetConfigMap(ctx, naming.BuildLogsName(instanceID))
	if err != nil {
		return "", err
	}
	return cm.Data["logs"], nil
}
