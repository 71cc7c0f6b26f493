package trigger

import (
	"path"
	"strings"

	"github.com/rendis/procflow/pkg/schema"
)

// Match rules, in precedence order.
const (
	MatchExact      = "exact"
	MatchPrefix     = "prefix"
	MatchProviderID = "provider_id"
)

// normalizeFolder converts backslashes, strips leading and trailing
// separators and case-folds.
func normalizeFolder(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.Trim(p, "/")
	return strings.ToLower(p)
}

// containingFolder returns the normalized folder of a normalized file path,
// "" for files at the root.
func containingFolder(normalized string) string {
	dir := path.Dir(normalized)
	if dir == "." {
		return ""
	}
	return dir
}

// rawSegments splits a path on either separator without normalizing.
func rawSegments(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
}

// MatchFolder reports whether filePath falls under t and by which rule. The
// first matching rule wins: exact folder, then folder prefix, then provider
// folder id among the path segments.
func MatchFolder(t *schema.Trigger, filePath string) (string, bool) {
	if t == nil {
		return "", false
	}
	file := normalizeFolder(filePath)

	if folder := normalizeFolder(t.FolderPath); folder != "" {
		if containingFolder(file) == folder {
			return MatchExact, true
		}
		if strings.HasPrefix(file, folder+"/") {
			return MatchPrefix, true
		}
	}

	if t.ProviderFolderID != "" {
		for _, seg := range rawSegments(filePath) {
			if seg == t.ProviderFolderID {
				return MatchProviderID, true
			}
		}
	}
	return "", false
}
