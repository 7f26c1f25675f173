// Package fs writes canonical records as indented JSON documents through a
// blob store, one document per product.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/assets"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

const recordDir = "products"

// Sink saves records under products/{sanitized product id}.json.
type Sink struct {
	store  harvest.BlobStore
	logger *zap.Logger
}

// New returns a Sink writing through store.
func New(store harvest.BlobStore, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, logger: logger.Named("sink.fs")}, nil
}

// RecordPath returns the relative path a record is written to. Records
// without an identifier are named after their digest.
func RecordPath(env harvest.Envelope) string {
	id := env.Outcome.ProductID()
	if id == "" {
		digest := env.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		id = "unidentified-" + digest
	}
	return path.Join(recordDir, assets.Sanitize(id)+".json")
}

// Save writes the record and returns the store URI.
func (s *Sink) Save(ctx context.Context, env harvest.Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	payload, err := json.MarshalIndent(env.Outcome.Record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	target := RecordPath(env)
	uri, err := s.store.PutObject(ctx, target, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("write record %s: %w", target, err)
	}
	s.logger.Debug("record written", zap.String("path", target), zap.Bool("validated", env.Outcome.Validated()))
	return uri, nil
}
