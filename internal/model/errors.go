package model

import "errors"

var (
	// ErrNotFound is returned when a shard id has no backing record.
	ErrNotFound = errors.New("shard not found")
	// ErrCorrupt is returned when a shard record cannot be parsed.
	ErrCorrupt = errors.New("shard record corrupt")
	// ErrDependency is returned when a summarizer or embedder call fails or returns unusable output.
	ErrDependency = errors.New("dependency failure")
	// ErrValidation is returned when caller input violates a stated constraint.
	ErrValidation = errors.New("invalid input")
)
