package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "test-policy.rego")

	regoContent := `package test.policy

# Test policy for validation

import rego.v1

deny contains "Invalid label" if input.environment.label == "invalid"`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Test policy for validation" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default warning severity, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
}

func TestLoadFromFile_Definitions(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantName string
		wantSev  Severity
		enabled  bool
		wantErr  bool
	}{
		{
			name:     "json",
			file:     "p.json",
			content:  `{"name":"json-policy","severity":"error","rego":"package p\ndeny contains \"x\" if false"}`,
			wantName: "json-policy",
			wantSev:  SeverityError,
			enabled:  true,
		},
		{
			name: "yaml disabled",
			file: "p.yaml",
			content: `name: yaml-policy
enabled: false
rego: |
  package p
  deny contains "x" if false
`,
			wantName: "yaml-policy",
			wantSev:  SeverityWarning,
			enabled:  false,
		},
		{
			name:    "missing name",
			file:    "p.yml",
			content: "rego: package p",
			wantErr: true,
		},
		{
			name:    "missing rego",
			file:    "p.json",
			content: `{"name":"empty"}`,
			wantErr: true,
		},
		{
			name:    "malformed",
			file:    "p.json",
			content: `{"name":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			policy, err := newTestLoader().loadFromFile(context.Background(), path)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to load policy: %v", err)
			}
			if policy.Name != tt.wantName {
				t.Errorf("Expected name %s, got %s", tt.wantName, policy.Name)
			}
			if policy.Severity != tt.wantSev {
				t.Errorf("Expected severity %s, got %s", tt.wantSev, policy.Severity)
			}
			if policy.Enabled != tt.enabled {
				t.Errorf("Expected enabled=%v, got %v", tt.enabled, policy.Enabled)
			}
		})
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := newTestLoader()
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		filepath.Join(dir, "a.rego"):    "package a\n",
		filepath.Join(nested, "b.rego"): "package b\n",
		filepath.Join(dir, "notes.txt"): "not a policy",
		filepath.Join(dir, "bad.json"):  "{",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	// bad.json is skipped with a warning, notes.txt ignored
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestLoaderCache(t *testing.T) {
	loader := newTestLoader()
	path := filepath.Join(t.TempDir(), "cached.rego")
	if err := os.WriteFile(path, []byte("package cached\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("package changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, _ := loader.loadFromFile(context.Background(), path)
	if first != second {
		t.Error("Expected cached policy")
	}

	loader.ClearCache()
	third, _ := loader.loadFromFile(context.Background(), path)
	if third.Rego != "package changed\n" {
		t.Error("Expected reload after cache clear")
	}
}

func TestExtractSeverity(t *testing.T) {
	tests := []struct {
		content string
		want    Severity
	}{
		{"package p\n# severity: critical\n", SeverityCritical},
		{"# severity: info\npackage p", SeverityInfo},
		{"# severity: bogus\npackage p", SeverityWarning},
		{"package p", SeverityWarning},
	}
	for _, tt := range tests {
		if got := extractSeverity(tt.content); got != tt.want {
			t.Errorf("extractSeverity(%q) = %s, want %s", tt.content, got, tt.want)
		}
	}
}
