package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-]+`)

func sanitize(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// resolvePath joins a catalog path onto the project root. Windows separators
// in spreadsheets are normalized.
func resolvePath(root, raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, `\`, "/"))
	if raw == "" {
		return ""
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Join(root, filepath.FromSlash(raw))
}

func exists(p string) bool {
	if p == "" {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// resolveMedia returns p when it exists, otherwise the first file in the same
// directory with extension ext whose sanitized basename contains, or is
// contained in, the sanitized expected basename.
func resolveMedia(p, ext string) (string, bool) {
	if p == "" {
		return "", false
	}
	if exists(p) {
		return p, true
	}
	dir, file := filepath.Split(p)
	want := sanitize(strings.TrimSuffix(file, filepath.Ext(file)))
	if want == "" || want == "_" {
		return "", false
	}
	candidates, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		return "", false
	}
	sort.Strings(candidates)
	for _, c := range candidates {
		base := filepath.Base(c)
		got := sanitize(strings.TrimSuffix(base, filepath.Ext(base)))
		if got == "" {
			continue
		}
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return c, true
		}
	}
	return "", false
}
