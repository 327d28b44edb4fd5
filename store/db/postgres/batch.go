package postgres

import (
	"context"
	"database/sql"

	"github.com/hrygo/agentmemory/store"
)

// ExecuteBatch runs every operation in one transaction on one connection.
// The first failure rolls everything back and is reported with its index.
func (d *DB) ExecuteBatch(ctx context.Context, ops []*store.BatchOperation) error {
	started, current := false, 0
	err := d.WithTx(ctx, len(ops), func(ctx context.Context, tx *sql.Tx) error {
		started = true
		for i, op := range ops {
			current = i
			if err := executeOperation(ctx, tx, op); err != nil {
				return store.BatchError(i, classify("failed to execute "+op.Kind()+" operation", err))
			}
		}
		return nil
	})
	// Failures before the transaction body ran (acquire, begin) keep their own code.
	if err == nil || !started || store.IsCode(err, store.ErrCodeBatch) {
		return err
	}
	return store.BatchError(current, err)
}

func executeOperation(ctx context.Context, q querier, op *store.BatchOperation) error {
	var err error
	switch {
	case op.Episodic != nil:
		err = insertEpisodicMemory(ctx, q, op.Episodic)
	case op.Semantic != nil:
		_, err = upsertSemanticMemory(ctx, q, op.Semantic)
	case op.Working != nil:
		_, err = upsertWorkingMemory(ctx, q, op.Working)
	case op.Procedural != nil:
		_, err = upsertProceduralMemory(ctx, q, op.Procedural)
	}
	return err
}
