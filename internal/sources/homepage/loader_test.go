package homepage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderLoad(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "bookmarks.yaml")

	yamlContent := `---
- Developer:
    - Github:
        - abbr: GH
          href: https://github.com/
- Entertainment:
    - YouTube:
        - abbr: YT
          href: https://youtube.com/
`

	err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644)
	if err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	loader := NewLoader(yamlPath)
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(config) != 2 {
		t.Fatalf("Load() returned %d categories, want 2", len(config))
	}
	gh := config[0]["Developer"][0]["Github"]
	if len(gh) != 1 || gh[0].Href != "https://github.com/" || gh[0].Abbr != "GH" {
		t.Errorf("Github entry = %+v", gh)
	}
}

func TestLoaderLoadWithTemplateVariables(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "bookmarks.yaml")

	yamlContent := `---
- Internal:
    - Wiki:
        - abbr: WK
          href: {{HOMEPAGE_VAR_WIKI_URL}}
`

	err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644)
	if err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	loader := NewLoader(yamlPath)
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(config) == 0 {
		t.Fatal("Load() returned empty config")
	}
	if href := config[0]["Internal"][0]["Wiki"][0].Href; href != "" {
		t.Errorf("templated href = %q, want empty", href)
	}
}

func TestLoaderLoadFileNotFound(t *testing.T) {
	loader := NewLoader("/nonexistent/path/bookmarks.yaml")
	_, err := loader.Load()
	if err == nil {
		t.Error("Load() with non-existent file should return error")
	}
}

func TestLoaderLoadInvalidYAML(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "bookmarks.yaml")
	if err := os.WriteFile(yamlPath, []byte("- Developer: [unclosed"), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	if _, err := NewLoader(yamlPath).Load(); err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestStripTemplateVariablesFunc(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "single template variable",
			input:    []byte("url: {{HOMEPAGE_VAR_URL}}"),
			expected: "url: \"\"",
		},
		{
			name:     "two template variables",
			input:    []byte("a: {{HOMEPAGE_VAR_A}}\nb: {{HOMEPAGE_VAR_B}}"),
			expected: "a: \"\"\nb: \"\"",
		},
		{
			name:     "no template variables",
			input:    []byte("plain text"),
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stripTemplateVariables(tt.input)
			if string(result) != tt.expected {
				t.Errorf("stripTemplateVariables() = %q, want %q", string(result), tt.expected)
			}
		})
	}
}
