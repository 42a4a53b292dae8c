// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListfile(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"crlf", "a.txt\r\nb.txt\r\n", []string{"a.txt", "b.txt"}},
		{"lf only", "a.txt\nb.txt", []string{"a.txt", "b.txt"}},
		{"semicolons", "a.txt;b.txt;c.txt", []string{"a.txt", "b.txt", "c.txt"}},
		{"mixed", "a.txt\r\nb.txt;c.txt\n", []string{"a.txt", "b.txt", "c.txt"}},
		{"blank lines skipped", "a.txt\r\n\r\n\nb.txt\r\n", []string{"a.txt", "b.txt"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseListfile([]byte(tt.data)))
		})
	}
}

func TestBuildListfile(t *testing.T) {
	out := buildListfile([]string{"b.txt", "Data\\a.txt", "data/A.TXT"})

	// Duplicates collapse under path normalization and the result is
	// sorted with CRLF separators.
	assert.Equal(t, "Data\\a.txt\r\nb.txt\r\n", string(out))

	assert.Empty(t, buildListfile(nil))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "DATA\\FILE.TXT", normalizePath("data/file.txt"))
	assert.Equal(t, "DATA\\FILE.TXT", normalizePath("Data\\File.txt"))
	assert.Equal(t, normalizePath("a/b/c"), normalizePath("A\\B\\C"))
}

func TestIsReservedName(t *testing.T) {
	assert.True(t, isReservedName("(listfile)"))
	assert.True(t, isReservedName("(Attributes)"))
	assert.True(t, isReservedName("(SIGNATURE)"))
	assert.True(t, isReservedName("(patch_metadata)"))
	assert.False(t, isReservedName("listfile"))
	assert.False(t, isReservedName("war3map.j"))
}
