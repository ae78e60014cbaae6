package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func labsHome() string {
	return getenv("LABS_HOME", filepath.Join(os.Getenv("HOME"), ".labs"))
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("LABS_CONFIG"); env != "" {
		return env
	}
	cwd, err := os.Getwd()
	if err == nil {
		for _, name := range []string{"labs.json", "labs.yaml", "labs.yml"} {
			local := filepath.Join(cwd, ".labs", name)
			if pathExists(local) {
				return local
			}
		}
	}
	return filepath.Join(labsHome(), "labs.json")
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func expandPath(p string) string {
	if p == "~" {
		return os.Getenv("HOME")
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), p[2:])
	}
	return p
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// flattenLists accepts repeated flags that may themselves be comma separated.
func flattenLists(values []string) []string {
	out := []string{}
	for _, v := range values {
		out = append(out, splitList(v)...)
	}
	return out
}

func printJSON(w io.Writer, payload any) {
	out, _ := json.MarshalIndent(payload, "", "  ")
	fmt.Fprintln(w, string(out))
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func truncateStatus(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// tailLines keeps the last n lines of s.
func tailLines(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
