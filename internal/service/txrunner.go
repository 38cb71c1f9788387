package service

import (
	"context"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/store"
)

// StoreProvider exposes the stores a service operation works with. Both
// *store.Stores and the in-memory test store satisfy it.
type StoreProvider interface {
	Transcripts() store.TranscriptStore
	Reviews() store.ReviewStore
	Responses() store.ResponseStore
	Statuses() store.StatusStore
	Variants() store.VariantStore
	Attempts() store.AttemptStore
	Inbound() store.InboundStore
	Businesses() store.BusinessStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.DBTX) error {
		return fn(store.NewStores(q))
	})
}
