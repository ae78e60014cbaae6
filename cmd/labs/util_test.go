package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestGetenv(t *testing.T) {
	t.Setenv("TEST_GETENV_VAR", "test_value")

	if got := getenv("TEST_GETENV_VAR", "fallback"); got != "test_value" {
		t.Errorf("expected test_value, got %s", got)
	}
	if got := getenv("NON_EXISTING_VAR_12345", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", []string{}},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,b", []string{"a", "b"}},
		{",a,b,", []string{"a", "b"}},
	}

	for _, tt := range tests {
		got := splitList(tt.input)
		if len(got) != len(tt.expected) {
			t.Errorf("splitList(%q): expected %v, got %v", tt.input, tt.expected, got)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("splitList(%q)[%d]: expected %q, got %q", tt.input, i, tt.expected[i], got[i])
			}
		}
	}
}

func TestFlattenLists(t *testing.T) {
	got := flattenLists([]string{"web,db", " h1 ", ""})
	expected := []string{"web", "db", "h1"}
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("flattenLists[%d]: expected %q, got %q", i, expected[i], got[i])
		}
	}
}

func TestExpandPath(t *testing.T) {
	home := os.Getenv("HOME")

	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"~", home},
		{"~/labs/history.db", filepath.Join(home, "labs/history.db")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		if got := expandPath(tt.input); got != tt.expected {
			t.Errorf("expandPath(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}

func TestPathExists(t *testing.T) {
	tmpDir := t.TempDir()
	if !pathExists(tmpDir) {
		t.Errorf("expected pathExists(%q) to be true", tmpDir)
	}

	tmpFile := filepath.Join(tmpDir, "labs.json")
	if err := os.WriteFile(tmpFile, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !pathExists(tmpFile) {
		t.Errorf("expected pathExists(%q) to be true", tmpFile)
	}

	if pathExists("/non/existing/path/12345") {
		t.Error("expected pathExists for non-existing path to be false")
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("/explicit/path.json"); got != "/explicit/path.json" {
		t.Errorf("expected /explicit/path.json, got %s", got)
	}

	t.Setenv("LABS_CONFIG", "/env/labs.yaml")
	if got := resolveConfigPath(""); got != "/env/labs.yaml" {
		t.Errorf("expected /env/labs.yaml, got %s", got)
	}

	t.Setenv("LABS_CONFIG", "")
	home := t.TempDir()
	t.Setenv("LABS_HOME", home)
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "labs.json")
	if pathExists(filepath.Join(cwd, ".labs")) {
		t.Skip("working directory carries a local .labs config")
	}
	if got := resolveConfigPath(""); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestTailLines(t *testing.T) {
	tests := []struct {
		input    string
		n        int
		expected string
	}{
		{"", 3, ""},
		{"a\nb\nc\n", 0, "a\nb\nc\n"},
		{"a\nb\nc\n", 2, "b\nc"},
		{"a\nb", 5, "a\nb"},
	}
	for _, tt := range tests {
		if got := tailLines(tt.input, tt.n); got != tt.expected {
			t.Errorf("tailLines(%q, %d): expected %q, got %q", tt.input, tt.n, tt.expected, got)
		}
	}
}

func TestTruncateStatus(t *testing.T) {
	if got := truncateStatus("short", 10); got != "short" {
		t.Errorf("expected short, got %s", got)
	}
	if got := truncateStatus("a-very-long-playbook.yml", 10); got != "a-very-..." {
		t.Errorf("expected a-very-..., got %s", got)
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"execution_id": "abc"})
	if got := buf.String(); got != "{\n  \"execution_id\": \"abc\"\n}\n" {
		t.Errorf("unexpected output %q", got)
	}
}
