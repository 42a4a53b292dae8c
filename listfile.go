// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"sort"
	"strings"
)

// The (listfile) pseudo-file carries the human-readable names of the
// archive's files, one per CRLF-delimited line. It is the only way to
// recover names from the hash tables.

// parseListfile splits listfile content into names. Real-world listfiles
// mix CRLF, bare LF and semicolon separators; all are accepted.
func parseListfile(data []byte) []string {
	fields := strings.FieldsFunc(string(data), func(r rune) bool {
		return r == '\r' || r == '\n' || r == ';'
	})

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			names = append(names, f)
		}
	}
	return names
}

// buildListfile serializes names: deduplicated case-insensitively, sorted
// for deterministic output, CRLF-terminated lines.
func buildListfile(names []string) []byte {
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))
	for _, n := range names {
		key := normalizePath(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, n)
	}
	sort.Strings(unique)

	var sb strings.Builder
	for _, n := range unique {
		sb.WriteString(n)
		sb.WriteString("\r\n")
	}
	return []byte(sb.String())
}

// normalizePath converts a path to its MPQ lookup form: backslash
// separators, uppercase.
func normalizePath(path string) string {
	normalized := strings.ReplaceAll(path, "/", "\\")
	return strings.ToUpper(normalized)
}

// isReservedName reports whether name is one of the pseudo-files that by
// convention may be missing from the extended index.
func isReservedName(name string) bool {
	switch strings.ToLower(name) {
	case nameListfile, nameAttributes, nameSignature, namePatchMetadata:
		return true
	}
	return false
}
