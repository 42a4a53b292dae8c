// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "log/slog"

var logger = slog.Default()

// SetLogger replaces the package logger. Passing nil restores the default.
// Only lenient-recovery paths log: salvaged tables, zero-filled sectors and
// flush failures during Close.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	logger = l
}
