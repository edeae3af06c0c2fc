// Package app wires application components and startup helpers.
package app

import (
	"context"
	"log/slog"

	qdrantcli "github.com/resumecore/ingestion-core/internal/adapter/vector/qdrant"
)

// CandidatesCollection is the single tenant-partitioned Qdrant collection
// holding candidate embeddings; tenants are isolated by a payload filter on
// tenant_id rather than one collection per tenant.
const CandidatesCollection = "candidates"

// EnsureCandidatesCollection creates the candidates collection on startup if
// it does not already exist.
func EnsureCandidatesCollection(ctx context.Context, qcli *qdrantcli.Client) {
	if qcli == nil {
		return
	}
	if err := qcli.EnsureCollection(ctx, CandidatesCollection, 1536, "Cosine"); err != nil {
		slog.Warn("qdrant ensure candidates collection failed", slog.Any("error", err))
	}
}
