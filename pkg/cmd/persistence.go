// Package cmd provides shared wiring helpers for the FormLoop binaries.
package cmd

import (
	"fmt"
	"strings"

	"github.com/formloop/formloop/pkg/persistence"
	"github.com/formloop/formloop/pkg/persistence/file"
	"github.com/formloop/formloop/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "redis"}

// NewPersistence selects a storage backend from the database URL scheme.
// Anything that is not a recognized scheme is treated as a file path.
func NewPersistence(databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "redis":
		store, err := redis.NewPersistence(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis persistence: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
