package learn

import (
	"context"

	"github.com/yungbote/shifu-backend/internal/data/aggregates"
	"github.com/yungbote/shifu-backend/internal/data/repos"
	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
)

// ProgressStore is the progress repository plus the multi-row writes that must
// commit together.
type ProgressStore struct {
	repos.ProgressRepo
	tx aggregates.TxRunner
}

func NewProgressStore(repo repos.ProgressRepo, tx aggregates.TxRunner) *ProgressStore {
	return &ProgressStore{ProgressRepo: repo, tx: tx}
}

// Suspend appends the directive row, marks it pending and saves the cursor in one
// transaction. On failure p is left unchanged.
func (s *ProgressStore) Suspend(ctx context.Context, p *types.Progress, row *types.GeneratedBlock) error {
	snapshot := *p
	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if err := s.AppendGeneratedBlock(dbc, row); err != nil {
			return err
		}
		p.PendingGeneratedBlockBID = row.BID
		return s.SaveCursor(dbc, p)
	})
	if err != nil {
		*p = snapshot
		return types.Wrap(types.CodeInternal, "learn.Suspend", err)
	}
	return nil
}

// Advance clears the pending directive and moves the cursor. also, when set, runs in
// the same transaction before the cursor write.
func (s *ProgressStore) Advance(ctx context.Context, p *types.Progress, leafBID string, blockPos int, status types.ProgressStatus, also func(dbc dbctx.Context) error) error {
	snapshot := *p
	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if also != nil {
			if err := also(dbc); err != nil {
				return err
			}
		}
		p.PendingGeneratedBlockBID = ""
		p.OutlineItemBID = leafBID
		p.BlockPosition = blockPos
		if status != "" {
			p.Status = status
		}
		return s.SaveCursor(dbc, p)
	})
	if err != nil {
		*p = snapshot
		return types.Wrap(types.CodeInternal, "learn.Advance", err)
	}
	return nil
}
