//go:build tools

package tools

// Pins the swag CLI used by `make swagger-gen`.
import (
	_ "github.com/swaggo/swag/cmd/swag"
)
