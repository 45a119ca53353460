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

// Package devcontainer models the devcontainer.json documents users upload.
// Only the fields the service acts on are typed; everything else rides along
// untyped so the document can be written back for the build tool unchanged.
package devcontainer

import (
	"encoding/json"
	"fmt"
)

// Config is a parsed devcontainer.json.
type Config struct {
	Name              string                     `json:"name,omitempty"`
	Image             string                     `json:"image,omitempty"`
	Build             map[string]any             `json:"build,omitempty"`
	Features          map[string]any             `json:"features,omitempty"`
	Customizations    map[string]json.RawMessage `json:"customizations,omitempty"`
	ForwardPorts      []int                      `json:"forwardPorts,omitempty"`
	PostCreateCommand string                     `json:"postCreateCommand,omitempty"`
	RemoteUser        string                     `json:"remoteUser,omitempty"`
	Mounts            []string                   `json:"mounts,omitempty"`
}

// Parse decodes a devcontainer.json document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid devcontainer.json: %w", err)
	}
	return cfg, nil
}

// Encode serializes the config back to indented JSON for the build tool.
func (c *Config) Encode() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// VSCodeCustomizations is the "customizations.vscode" blob plus the
// top-level postCreateCommand, which the launch script also honors.
type VSCodeCustomizations struct {
	Extensions        []string       `json:"extensions,omitempty"`
	Settings          map[string]any `json:"settings,omitempty"`
	PostCreateCommand string         `json:"postCreateCommand,omitempty"`
}

// IsZero reports whether there is nothing to apply inside the pod.
func (v VSCodeCustomizations) IsZero() bool {
	return len(v.Extensions) == 0 && len(v.Settings) == 0 && v.PostCreateCommand == ""
}

// Encode returns the customizations as a JSON string for storage in the
// session configuration record. Returns "" for an empty blob.
func (v VSCodeCustomizations) Encode() (string, error) {
	if v.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode vscode customizations: %w", err)
	}
	return string(data), nil
}

// DecodeCustomizations is the inverse of VSCodeCustomizations.Encode.
func DecodeCustomizations(s string) (VSCodeCustomizations, error) {
	var v VSCodeCustomizations
	if s == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, fmt.Errorf("decode vscode customizations: %w", err)
	}
	return v, nil
}

// VSCode extracts the VS Code customizations from the config. Malformed
// blobs degrade to an empty result rather than failing the whole create.
func (c *Config) VSCode() VSCodeCustomizations {
	var v VSCodeCustomizations
	if raw, ok := c.Customizations["vscode"]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	if v.PostCreateCommand == "" {
		v.PostCreateCommand = c.PostCreateCommand
	}
	return v
}
