package data

import "strings"

// Separator is the one reserved path separator for backend-relative paths.
// AltSeparator never appears in a valid relative path, no matter which
// platform the process runs on.
const (
	Separator    = '/'
	AltSeparator = '\\'
)

// IsValidRelPath reports whether rel is a well-formed backend-relative path:
// no alternate separator, no leading or trailing separator and no doubled
// separator. The empty string is valid and denotes the device root.
func IsValidRelPath(rel string) bool {
	return !strings.ContainsRune(rel, AltSeparator) &&
		!strings.HasPrefix(rel, string(Separator)) &&
		!strings.HasSuffix(rel, string(Separator)) &&
		!strings.Contains(rel, string(Separator)+string(Separator))
}

// ParentRelPath returns the relative path one level up.
// The second return value is false when rel denotes the device root.
func ParentRelPath(rel string) (string, bool) {
	if rel == "" {
		return "", false
	}

	idx := strings.LastIndexByte(rel, Separator)
	if idx < 0 {
		return "", true
	}

	return rel[:idx], true
}

// JoinRelPath appends one or more components to rel.
func JoinRelPath(rel string, names ...string) string {
	for _, name := range names {
		if rel == "" {
			rel = name
		} else {
			rel = rel + string(Separator) + name
		}
	}

	return rel
}

// ItemName returns the last component of rel.
// The device root has no name and yields the empty string.
func ItemName(rel string) string {
	if idx := strings.LastIndexByte(rel, Separator); idx >= 0 {
		return rel[idx+1:]
	}

	return rel
}

// SplitRelPath breaks rel into its components.
// The device root yields nil.
func SplitRelPath(rel string) []string {
	if rel == "" {
		return nil
	}

	return strings.Split(rel, string(Separator))
}
