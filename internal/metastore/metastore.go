// Package metastore implements manifest.Store over the supported metadata backends.
package metastore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rowjay/logfetch/internal/config"
	"github.com/rowjay/logfetch/internal/manifest"
)

const defaultPageSize = 1000

// New opens the configured backend. The returned closer releases its connections.
func New(ctx context.Context, cfg config.ManifestConfig) (manifest.Store, io.Closer, error) {
	switch cfg.Backend {
	case "dynamodb", "dynamo", "":
		store, err := OpenDynamo(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "postgres", "postgresql":
		store, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported manifest backend: %s", cfg.Backend)
	}
}

func pageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return n
}

// encodeToken renders a continuation position as an opaque string.
func encodeToken(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeToken(token string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("invalid continuation token: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid continuation token: %w", err)
	}
	return nil
}
