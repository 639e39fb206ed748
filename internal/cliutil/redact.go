package cliutil

import (
	"regexp"
	"sort"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	secretNamePattern  = regexp.MustCompile(`(?i)(password|passwd|secret|token|api_?key|credential|private_?key)`)
	secretAssignment   = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:PASSWORD|PASSWD|SECRET|TOKEN|API_?KEY|CREDENTIAL|PRIVATE_?KEY)[A-Z0-9_]*)(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

// RedactSecrets masks template references and secret-looking key
// assignments in the supplied string so event messages and captured
// command output can be shown without leaking credentials.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllStringFunc(message, func(string) string {
		return "${" + redactedPlaceholder + "}"
	})
	return secretAssignment.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
}

// SecretKeyName reports whether an environment variable name looks like
// it holds a credential.
func SecretKeyName(name string) bool {
	return secretNamePattern.MatchString(name)
}

// RedactEnv returns a copy of env with the values of secret-looking
// keys replaced. Keys are preserved so the shape of the environment
// stays reviewable.
func RedactEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return env
	}
	out := make(map[string]string, len(env))
	for key, value := range env {
		if SecretKeyName(key) {
			out[key] = redactedPlaceholder
			continue
		}
		out[key] = value
	}
	return out
}

// FormatEnv renders env as sorted KEY=value pairs with secrets masked.
func FormatEnv(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	masked := RedactEnv(env)
	keys := make([]string, 0, len(masked))
	for key := range masked {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+masked[key])
	}
	return strings.Join(pairs, " ")
}
