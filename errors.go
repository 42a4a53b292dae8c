// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by archive operations. Wrap-aware: match with
// errors.Is.
var (
	// ErrFileNotFound is returned when a file is absent from every table.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileExists is returned when adding or renaming would collide with
	// an existing entry and replacement was not requested.
	ErrFileExists = errors.New("file already exists")

	// ErrInvalidFormat indicates a malformed header, table or signature.
	ErrInvalidFormat = errors.New("invalid MPQ format")

	// ErrChecksumMismatch indicates a CRC/MD5/adler32 verification failure.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrOperationNotSupported is returned for operations the entry cannot
	// satisfy, such as reading a patch file directly.
	ErrOperationNotSupported = errors.New("operation not supported")

	// ErrInvalidParameter indicates a caller error at the API boundary.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ArchiveError wraps an error with the operation and archive path it
// occurred in.
type ArchiveError struct {
	Op   string
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("mpq: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("mpq: %s: %v", e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// ChecksumError reports a checksum verification failure for a named file.
// It matches ErrChecksumMismatch under errors.Is.
type ChecksumError struct {
	Name     string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected 0x%08X, got 0x%08X", e.Name, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// Warning records a non-fatal anomaly encountered while reading a
// deliberately lenient archive (salvaged table, zero-filled sector, ...).
// Callers inspect these through Archive.Warnings instead of parsing logs.
type Warning struct {
	Op     string
	Detail string
	Err    error
}

func (w Warning) String() string {
	if w.Err != nil {
		return fmt.Sprintf("%s: %s: %v", w.Op, w.Detail, w.Err)
	}
	return fmt.Sprintf("%s: %s", w.Op, w.Detail)
}
