package profile

import _ "embed"

//go:embed profiles/destructive-shell.yaml
var destructiveShellYAML []byte

//go:embed profiles/secrets.yaml
var secretsYAML []byte

//go:embed profiles/read-only.yaml
var readOnlyYAML []byte

// builtinProfiles maps profile names to their embedded YAML content.
var builtinProfiles = map[string][]byte{
	"destructive-shell": destructiveShellYAML,
	"secrets":           secretsYAML,
	"read-only":         readOnlyYAML,
}
