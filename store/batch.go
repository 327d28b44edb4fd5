package store

import (
	"context"
	"time"
)

// BatchOperation carries exactly one record to write inside a batch.
// Episodic records are inserted; the other kinds use their upsert semantics.
type BatchOperation struct {
	Episodic   *EpisodicMemory
	Semantic   *SemanticMemory
	Working    *WorkingMemory
	WorkingTTL time.Duration // required with Working
	Procedural *ProceduralMemory
}

// Kind names the record kind of the operation.
func (op *BatchOperation) Kind() string {
	switch {
	case op.Episodic != nil:
		return "episodic"
	case op.Semantic != nil:
		return "semantic"
	case op.Working != nil:
		return "working"
	case op.Procedural != nil:
		return "procedural"
	}
	return "empty"
}

func (op *BatchOperation) set() int {
	n := 0
	if op.Episodic != nil {
		n++
	}
	if op.Semantic != nil {
		n++
	}
	if op.Working != nil {
		n++
	}
	if op.Procedural != nil {
		n++
	}
	return n
}

// BatchResult reports a committed batch.
type BatchResult struct {
	Successful int
}

// ExecuteBatch writes heterogeneous records in a single transaction. The batch is
// strictly atomic: on any failure it is rolled back and a BatchError naming the
// failing operation is returned.
func (s *Store) ExecuteBatch(ctx context.Context, ops []*BatchOperation) (result *BatchResult, err error) {
	defer s.observe(ctx, "batch.execute", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.executeBatch(ctx, ops)
}

func (s *Store) executeBatch(ctx context.Context, ops []*BatchOperation) (*BatchResult, error) {
	// Validate everything before the transaction starts so that a bad record
	// never costs a round trip.
	now := s.now()
	for i, op := range ops {
		if err := s.prepareOperation(op, now); err != nil {
			return nil, BatchError(i, err)
		}
	}
	if len(ops) == 0 {
		return &BatchResult{}, nil
	}
	if err := s.driver.ExecuteBatch(ctx, ops); err != nil {
		return nil, err
	}
	return &BatchResult{Successful: len(ops)}, nil
}

func (s *Store) prepareOperation(op *BatchOperation, now time.Time) error {
	if op == nil || op.set() != 1 {
		return ValidationError("batch operation must carry exactly one record")
	}
	switch {
	case op.Episodic != nil:
		if err := op.Episodic.validate(); err != nil {
			return err
		}
		op.Episodic.prepare(now)
	case op.Semantic != nil:
		if err := s.validateSemantic(op.Semantic); err != nil {
			return err
		}
		op.Semantic.prepare(now)
	case op.Working != nil:
		if err := op.Working.validate(op.WorkingTTL); err != nil {
			return err
		}
		op.Working.prepare(now, op.WorkingTTL)
	case op.Procedural != nil:
		if err := op.Procedural.validate(); err != nil {
			return err
		}
		op.Procedural.prepare(now)
	}
	return nil
}
