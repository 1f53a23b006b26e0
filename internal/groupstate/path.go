package groupstate

import "strings"

// Separator joins path segments. Segment text escapes it with a backslash.
const Separator = '/'

var segmentEscaper = strings.NewReplacer(`\`, `\\`, `/`, `\/`, `=`, `\=`)

// Segment renders one bucket as a path segment: column=key.
func Segment(column, key string) string {
	return segmentEscaper.Replace(column) + "=" + segmentEscaper.Replace(key)
}

// JoinPath appends the segment for (column, key) to parent.
func JoinPath(parent, column, key string) string {
	seg := Segment(column, key)
	if parent == "" {
		return seg
	}
	return parent + string(Separator) + seg
}

// SplitPath splits a path on unescaped separators. Segments keep their
// escaping.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	var (
		out     []string
		start   int
		escaped bool
	)
	for i := 0; i < len(path); i++ {
		switch {
		case escaped:
			escaped = false
		case path[i] == '\\':
			escaped = true
		case path[i] == Separator:
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	return append(out, path[start:])
}

// Parent returns the path of the enclosing bucket, "" for top-level buckets.
func Parent(path string) string {
	segs := SplitPath(path)
	if len(segs) <= 1 {
		return ""
	}
	return strings.Join(segs[:len(segs)-1], string(Separator))
}

// LevelOf returns the nesting level encoded in path; top-level buckets are 0.
func LevelOf(path string) int {
	return max(len(SplitPath(path))-1, 0)
}
