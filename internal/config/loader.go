package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a run manifest from the provided path, folding in any
// included fragments first. The merged document is checked against the
// embedded JSON schema before the strict decode, so unknown fields and
// structural mistakes surface with locations instead of as decode
// errors.
func Load(path string) (*Manifest, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	doc, _, err := resolveIncludes(absPath)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: encode merged manifest: %w", absPath, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var m Manifest
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	baseDir := filepath.Dir(absPath)
	m.Defaults.Dir = resolveDir(baseDir, expandEnvWithDefault(m.Defaults.Dir))
	expandEnvMap(m.Defaults.Env)

	for _, task := range m.Tasks {
		if task == nil {
			continue
		}
		if task.Dir != "" {
			task.Dir = resolveDir(baseDir, expandEnvWithDefault(task.Dir))
		}
		expandEnvMap(task.Env)

		if task.EnvFromFile != "" {
			envPath := expandEnvWithDefault(task.EnvFromFile)
			if !filepath.IsAbs(envPath) {
				envPath = filepath.Clean(filepath.Join(baseDir, envPath))
			}
			task.EnvFromFile = envPath

			fileEnv, err := loadEnvFile(envPath)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", task.Name, err)
			}
			// Inline entries win over file entries.
			for k, v := range task.Env {
				fileEnv[k] = v
			}
			task.Env = fileEnv
		}
	}

	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &m, nil
}

func resolveDir(base, dir string) string {
	if dir == "" {
		return ""
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(base, dir))
}

// expandEnvWithDefault expands ${VAR} and $VAR references, honouring
// the ${VAR:-fallback} form when the variable is unset or empty.
func expandEnvWithDefault(s string) string {
	if s == "" {
		return s
	}
	return os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		value := os.Getenv(name)
		if value == "" && hasFallback {
			return fallback
		}
		return value
	})
}

func expandEnvMap(env map[string]string) {
	for k, v := range env {
		env[k] = expandEnvWithDefault(v)
	}
}

// loadEnvFile parses a dotenv-style file: KEY=VALUE lines, comments,
// optional export prefixes, and single or double quoting.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok, err := parseEnvLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("load env file %q: line %d: %w", path, lineNo, err)
		}
		if ok {
			values[key] = expandEnvWithDefault(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}

func parseEnvLine(line string) (key, value string, ok bool, err error) {
	raw := strings.TrimSpace(line)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", "", false, nil
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
	sep := strings.IndexRune(raw, '=')
	if sep <= 0 {
		return "", "", false, fmt.Errorf("not a KEY=VALUE line")
	}
	key = strings.TrimSpace(raw[:sep])
	if key == "" {
		return "", "", false, fmt.Errorf("empty key")
	}
	value = strings.TrimSpace(raw[sep+1:])
	switch {
	case strings.HasPrefix(value, `"`):
		if len(value) < 2 || !strings.HasSuffix(value, `"`) {
			return "", "", false, fmt.Errorf("unmatched double quote")
		}
		value, err = strconv.Unquote(value)
		if err != nil {
			return "", "", false, fmt.Errorf("parse quoted value: %w", err)
		}
	case strings.HasPrefix(value, "'"):
		if len(value) < 2 || !strings.HasSuffix(value, "'") {
			return "", "", false, fmt.Errorf("unmatched single quote")
		}
		value = value[1 : len(value)-1]
	default:
		if comment := strings.IndexRune(value, '#'); comment >= 0 {
			value = strings.TrimSpace(value[:comment])
		}
	}
	return key, value, true, nil
}
