package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax: {{.VAR_NAME}}. Plain $ characters pass through untouched, so
// regex patterns, passwords and shell snippets in config values survive
// expansion. Missing variables expand to the empty string; validation is
// responsible for catching required fields left empty.
//
// Malformed templates fall back to the original bytes so that YAML without
// any template syntax (or with stray braces) still reaches the parser,
// which produces the clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
