// Package normalize converts raw source rows into canonical domain records.
//
// Each source has a row type mirroring the upstream shape and a batch
// function that normalizes every row it can, dropping malformed rows one at
// a time. Drops are counted and logged, never fatal: a single bad row must
// not abort a run.
package normalize

import "log/slog"

// Normalizer validates and converts raw rows for every source type.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer.
func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}
