//go:build tools

// Package tools tracks build-time tool dependencies (mockgen, invoked via
// go generate) so go.mod and go.sum stay in sync with them.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
