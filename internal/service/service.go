// Package service implements the access-checked operations behind the HTTP
// API: collection lifecycle, document ingestion, and scoped retrieval.
//
// Access rules: a personal collection is visible only to its owner. An
// organizational collection can be read by any member of the organization;
// writing to it or deleting it requires being its creator or holding ADMIN
// in the organization.
package service

import "errors"

// Errors returned by service operations, mapped to HTTP statuses by the
// server layer.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyExists    = errors.New("already exists")
)
