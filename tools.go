//go:build tools
// +build tools

// Package tools pins build-time tool dependencies in go.mod/go.sum so
// `go mod tidy` doesn't drop them; this file is excluded from normal
// builds by the tools build tag.
package tools

import (
	_ "github.com/jstemmer/go-junit-report"
)
