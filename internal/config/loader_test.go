package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	workdir := filepath.Join(dir, "app")
	if err := os.Mkdir(workdir, 0o755); err != nil {
		t.Fatalf("mkdir workdir: %v", err)
	}
	envFile := filepath.Join(dir, "vars.env")
	writeFile(t, envFile, "TOKEN=${FILE_SECRET}\nPASSWORD=from-file\n")

	t.Setenv("FILE_SECRET", "alpha")
	t.Setenv("WORKDIR_PATH", "./app")
	t.Setenv("ENV_FILE", "./vars.env")
	t.Setenv("API_PASSWORD", "s3cr3t")

	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
run:
  concurrency: 3
  timeout: 2m
defaults:
  dir: ${WORKDIR_PATH}
  env:
    REGION: us-east-1
tasks:
  - name: api
    command: ["/bin/sh", "-c", "true"]
    env:
      PASSWORD: ${API_PASSWORD}
    envFromFile: ${ENV_FILE}
    limits:
      memory: 512Mi
      cpu: 1m
      files: 64
  - name: worker
    command: ["./run.sh"]
`)

	m, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if got, want := m.Run.Concurrency, 3; got != want {
		t.Fatalf("concurrency: got %d want %d", got, want)
	}
	if got, want := m.Run.Timeout.Duration, 2*time.Minute; got != want {
		t.Fatalf("timeout: got %v want %v", got, want)
	}

	if len(m.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(m.Tasks))
	}
	api := m.Tasks[0]
	if got, want := api.Dir, workdir; got != want {
		t.Fatalf("api dir: got %q want %q", got, want)
	}
	if got, want := api.Env["TOKEN"], "alpha"; got != want {
		t.Fatalf("env file value: got %q want %q", got, want)
	}
	if got, want := api.Env["PASSWORD"], "s3cr3t"; got != want {
		t.Fatalf("inline env should win over the file: got %q want %q", got, want)
	}
	if got, want := api.Env["REGION"], "us-east-1"; got != want {
		t.Fatalf("default env not merged: got %q want %q", got, want)
	}
	if got, want := api.EnvFromFile, envFile; got != want {
		t.Fatalf("envFromFile not resolved: got %q want %q", got, want)
	}
	if got, want := api.Limits.Memory.Bytes, int64(512*1024*1024); got != want {
		t.Fatalf("memory limit: got %d want %d", got, want)
	}
	if got, want := api.Limits.CPU.Duration, time.Minute; got != want {
		t.Fatalf("cpu limit: got %v want %v", got, want)
	}
	if got, want := api.Limits.Files, 64; got != want {
		t.Fatalf("files limit: got %d want %d", got, want)
	}

	worker := m.Tasks[1]
	if got, want := worker.Dir, workdir; got != want {
		t.Fatalf("worker dir should inherit the default: got %q want %q", got, want)
	}
	if worker.Limits != nil {
		t.Fatalf("worker limits should stay unset, got %+v", worker.Limits)
	}
}

func TestLoadEnvDefaultFallback(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "vars.env")
	writeFile(t, envFile, "FILE_ABSENT=${NOT_SET_ANYWHERE:-file-default}\n")

	t.Setenv("SET_VALUE", "real")

	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
tasks:
  - name: api
    command: ["true"]
    env:
      FROM_FALLBACK: ${ALSO_NOT_SET:-fallback}
      FROM_ENV: ${SET_VALUE:-ignored}
    envFromFile: vars.env
`)

	m, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	api := m.Tasks[0]
	if got, want := api.Env["FROM_FALLBACK"], "fallback"; got != want {
		t.Fatalf("fallback expansion: got %q want %q", got, want)
	}
	if got, want := api.Env["FROM_ENV"], "real"; got != want {
		t.Fatalf("set variable should beat its fallback: got %q want %q", got, want)
	}
	if got, want := api.Env["FILE_ABSENT"], "file-default"; got != want {
		t.Fatalf("env file fallback: got %q want %q", got, want)
	}
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("expected error for a missing manifest")
	}
	if !strings.Contains(err.Error(), "open manifest") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadSchemaValidation(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
tasks:
  - name: api
    command: ["true"]
    replicas: 2
`)

	_, err := Load(manifestPath)
	if err == nil {
		t.Fatalf("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "replicas") {
		t.Fatalf("error should name the offending field: %v", err)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "7"
tasks:
  - name: api
    command: ["true"]
`)

	_, err := Load(manifestPath)
	if err == nil {
		t.Fatalf("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "version") {
		t.Fatalf("error should point at the version field: %v", err)
	}
}

func TestLoadDuplicateTaskNames(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
tasks:
  - name: api
    command: ["true"]
  - name: api
    command: ["false"]
`)

	_, err := Load(manifestPath)
	if err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if !strings.Contains(err.Error(), `duplicate task name "api"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadIncludesMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fragment.yaml"), `defaults:
  env:
    REGION: eu-west-1
    TIER: staging
tasks:
  - name: prepare
    command: ["./prepare.sh"]
`)
	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
includes:
  - fragment.yaml
run:
  concurrency: 2
defaults:
  env:
    REGION: us-east-1
tasks:
  - name: build
    command: ["./build.sh"]
`)

	m, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(m.Includes) != 1 || m.Includes[0] != "fragment.yaml" {
		t.Fatalf("includes = %v, want the fragment reference", m.Includes)
	}
	if len(m.Tasks) != 2 {
		t.Fatalf("got %d tasks, want fragment and root tasks", len(m.Tasks))
	}
	if m.Tasks[0].Name != "prepare" || m.Tasks[1].Name != "build" {
		t.Fatalf("task order = %q, %q; want included tasks first", m.Tasks[0].Name, m.Tasks[1].Name)
	}
	if got, want := m.Tasks[0].Env["REGION"], "us-east-1"; got != want {
		t.Fatalf("root defaults should win: got %q want %q", got, want)
	}
	if got, want := m.Tasks[0].Env["TIER"], "staging"; got != want {
		t.Fatalf("fragment defaults should survive the merge: got %q want %q", got, want)
	}
}

func TestLoadIncludeOverridePrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fragment.yaml"), `run:
  concurrency: 8
  timeout: 30s
`)
	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
includes:
  - fragment.yaml
run:
  concurrency: 2
tasks:
  - name: build
    command: ["true"]
`)

	m, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got, want := m.Run.Concurrency, 2; got != want {
		t.Fatalf("root run settings should win: got %d want %d", got, want)
	}
	if got, want := m.Run.Timeout.Duration, 30*time.Second; got != want {
		t.Fatalf("fragment timeout should survive the merge: got %v want %v", got, want)
	}
}

func TestLoadIncludeMissingFile(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
includes:
  - absent.yaml
tasks:
  - name: build
    command: ["true"]
`)

	_, err := Load(manifestPath)
	if err == nil {
		t.Fatalf("expected error for a missing include")
	}
	if !strings.Contains(err.Error(), "open include file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), `includes:
  - b.yaml
`)
	writeFile(t, filepath.Join(dir, "b.yaml"), `includes:
  - a.yaml
`)

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil {
		t.Fatalf("expected include cycle error")
	}
	if !strings.Contains(err.Error(), "include cycle") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadIncludeEnvironmentExpansion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ci-tasks.yaml"), `tasks:
  - name: lint
    command: ["./lint.sh"]
`)
	t.Setenv("FRAGMENT", "ci-tasks.yaml")

	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
includes:
  - ${FRAGMENT}
tasks:
  - name: build
    command: ["true"]
`)

	m, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(m.Tasks) != 2 || m.Tasks[0].Name != "lint" {
		t.Fatalf("expanded include was not merged: %+v", m.Tasks)
	}
}

func TestLoadRemoteIncludeRejected(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
includes:
  - https://example.com/tasks.yaml
tasks:
  - name: build
    command: ["true"]
`)

	_, err := Load(manifestPath)
	if err == nil {
		t.Fatalf("expected remote include rejection")
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadEnvFileQuotedValues(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "vars.env")
	writeFile(t, envFile, strings.Join([]string{
		"# header comment",
		"export SINGLE='keep # hash and spaces'",
		`DOUBLE="tab\tseparated"`,
		"BARE=value # trailing comment",
		"",
	}, "\n"))

	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
tasks:
  - name: api
    command: ["true"]
    envFromFile: vars.env
`)

	m, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	env := m.Tasks[0].Env
	if got, want := env["SINGLE"], "keep # hash and spaces"; got != want {
		t.Fatalf("single-quoted value: got %q want %q", got, want)
	}
	if got, want := env["DOUBLE"], "tab\tseparated"; got != want {
		t.Fatalf("double-quoted value: got %q want %q", got, want)
	}
	if got, want := env["BARE"], "value"; got != want {
		t.Fatalf("bare value with comment: got %q want %q", got, want)
	}
}

func TestLoadEnvFileMalformedLine(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "vars.env")
	writeFile(t, envFile, "JUST_A_WORD\n")

	manifestPath := filepath.Join(dir, "fork.yaml")
	writeFile(t, manifestPath, `version: "1"
tasks:
  - name: api
    command: ["true"]
    envFromFile: vars.env
`)

	_, err := Load(manifestPath)
	if err == nil {
		t.Fatalf("expected env file parse error")
	}
	if !strings.Contains(err.Error(), "line 1") || !strings.Contains(err.Error(), "not a KEY=VALUE line") {
		t.Fatalf("unexpected error: %v", err)
	}
}
