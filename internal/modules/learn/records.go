package learn

import (
	"context"
	"encoding/json"

	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/modules/learn/script"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
)

type Record struct {
	GeneratedBlockBID string          `json:"generated_block_bid"`
	OutlineItemBID    string          `json:"outline_item_bid"`
	BlockBID          string          `json:"block_bid"`
	Role              types.Role      `json:"role"`
	Type              script.DTOType  `json:"type"`
	Content           json.RawMessage `json:"content"`
}

// RecordsView is the learner's log for the active progress plus the directive the
// script is waiting on, if any.
type RecordsView struct {
	Records []Record    `json:"records"`
	Pending *script.DTO `json:"pending,omitempty"`
}

func (s *Service) Records(ctx context.Context, userBID, shifuBID string, preview bool) (*RecordsView, error) {
	const op = "learn.Records"
	if err := validateIDs(op, userBID, shifuBID); err != nil {
		return nil, err
	}
	dbc := dbctx.New(ctx)
	view := &RecordsView{Records: []Record{}}
	p, err := s.deps.Progress.LoadActive(dbc, userBID, shifuBID, preview)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, op, err)
	}
	if p == nil {
		return view, nil
	}
	rows, err := s.deps.Progress.ListGeneratedBlocks(dbc, p.ID)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, op, err)
	}
	for _, row := range rows {
		d := dtoFromRow(row)
		view.Records = append(view.Records, Record{
			GeneratedBlockBID: row.BID,
			OutlineItemBID:    row.OutlineItemBID,
			BlockBID:          row.BlockBID,
			Role:              row.Role,
			Type:              d.Type,
			Content:           d.Content,
		})
		if row.BID == p.PendingGeneratedBlockBID {
			pending := d
			view.Pending = &pending
		}
	}
	return view, nil
}
