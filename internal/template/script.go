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

package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/jeffvincent/devspawn/internal/naming"
)

// launchScript is the container entrypoint. It runs as root, installs the
// editor CLI when the image does not already carry it, applies the user's
// customizations, then drops to the vscode user and execs the server. The
// connection token and data directories arrive through the environment via
// the session ConfigMap.
const launchScript = `
# Ensure user exists
if ! id vscode >/dev/null 2>&1; then
    useradd -m -s /bin/bash -u 1000 vscode
fi

# Install dependencies if not in devcontainer image
if ! command -v code >/dev/null 2>&1; then
    if command -v apt-get >/dev/null 2>&1; then
        apt-get update && apt-get install -y curl wget ca-certificates git sudo unzip
    fi

    # Determine architecture
    if [ "$(uname -m)" = "x86_64" ]; then
        export TARGET='cli-linux-x64'
    elif [ "$(uname -m)" = "aarch64" ] || [ "$(uname -m)" = "arm64" ]; then
        export TARGET='cli-linux-arm64'
    else
        echo "Unsupported architecture: $(uname -m)"
        exit 1
    fi

    # Install VS Code CLI
    wget -qO- "https://update.code.visualstudio.com/{{ .VSCodeVersion }}/${TARGET}/stable" | tar xvz -C /usr/bin/
    chmod +x /usr/bin/code
fi

# Set up directories
mkdir -p /home/vscode/.vscode
{{- if .Extensions }}

# Preinstall extensions from the marketplace
mkdir -p "$EXTENSIONS_DIR"
install_extension() {
    ext="$1"
    publisher="${ext%%.*}"
    name="${ext#*.}"
    vsix="/tmp/${ext}.vsix"
    wget -qO "$vsix" "https://marketplace.visualstudio.com/_apis/public/gallery/publishers/${publisher}/vsextensions/${name}/latest/vspackage" || return 0
    if gzip -t "$vsix" >/dev/null 2>&1; then
        mv "$vsix" "$vsix.gz" && gunzip -f "$vsix.gz"
    fi
    if unzip -t "$vsix" >/dev/null 2>&1; then
        mkdir -p "$EXTENSIONS_DIR/${ext}"
        unzip -oq "$vsix" -d "$EXTENSIONS_DIR/${ext}"
    else
        echo "Skipping extension ${ext}: not a valid package"
    fi
    rm -f "$vsix"
}
{{- range .Extensions }}
install_extension {{ . | quote }}
{{- end }}
{{- end }}
{{- if .SettingsJSON }}

# Apply editor settings
mkdir -p "$USER_DATA_DIR/User"
cat > "$USER_DATA_DIR/User/settings.json" <<'SETTINGS_EOF'
{{ .SettingsJSON | trim }}
SETTINGS_EOF
{{- end }}

# Seed an empty workspace
if [ -z "$(ls -A /workspace 2>/dev/null)" ]; then
    cat > /workspace/README.md <<'README_EOF'
# Workspace

Files in /workspace persist across restarts of this instance.
Files in /shared are visible to every instance you own.
README_EOF
fi

chown -R vscode:vscode /home/vscode /workspace /shared
{{- if .PostCreateCommand }}

# Run the post-create command inside the workspace
su vscode -c "$(cat <<'POST_CREATE_EOF'
cd /workspace && {{ .PostCreateCommand | trim }}
POST_CREATE_EOF
)" || echo "post-create command failed"
{{- end }}

# Run VS Code Server as vscode user
exec su - vscode -c 'code serve-web --accept-server-license-terms --host 0.0.0.0 --port 8000 \
    --connection-token "$TOKEN" --server-base-path {{ .InstancePath }} \
    --cli-data-dir "$CLI_DATA_DIR" --user-data-dir "$USER_DATA_DIR" \
    --server-data-dir "$SERVER_DATA_DIR" --extensions-dir "$EXTENSIONS_DIR"'
`

var launchTemplate = template.Must(
	template.New("launch").Funcs(sprig.TxtFuncMap()).Parse(launchScript))

type scriptData struct {
	InstancePath      string
	VSCodeVersion     string
	Extensions        []string
	SettingsJSON      string
	PostCreateCommand string
}

// LaunchScript renders the container entrypoint for one session.
func LaunchScript(p Params) (string, error) {
	data := scriptData{
		InstancePath:      naming.InstancePath(p.InstanceID),
		VSCodeVersion:     p.VSCodeVersion,
		Extensions:        p.Customizations.Extensions,
		PostCreateCommand: p.Customizations.PostCreateCommand,
	}
	if len(p.Customizations.Settings) > 0 {
		settings, err := json.MarshalIndent(p.Customizations.Settings, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode editor settings: %w", err)
		}
		data.SettingsJSON = string(settings)
	}

	var buf bytes.Buffer
	if err := launchTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render launch script: %w", err)
	}
	return buf.String(), nil
}
