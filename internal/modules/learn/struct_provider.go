package learn

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/shifu-backend/internal/data/repos"
	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

// StructProvider loads and validates course outlines. Concurrent loads of the same
// course universe share one database read.
type StructProvider struct {
	log     *logger.Logger
	structs repos.StructRepo
	group   singleflight.Group
}

func NewStructProvider(log *logger.Logger, structs repos.StructRepo) *StructProvider {
	return &StructProvider{log: log.With("service", "StructProvider"), structs: structs}
}

func universeKey(shifuBID string, preview bool) string {
	return shifuBID + "|" + strconv.FormatBool(preview)
}

// GetShifuDTO returns the course header of the requested universe.
func (p *StructProvider) GetShifuDTO(ctx context.Context, shifuBID string, preview bool) (*types.ShifuInfo, error) {
	const op = "learn.GetShifuDTO"
	s, err := p.structs.GetShifu(dbctx.New(ctx), shifuBID, preview)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, op, err)
	}
	if s == nil {
		return nil, types.NewError(types.CodeNotFound, op, fmt.Sprintf("shifu %s not found", shifuBID), nil)
	}
	return &types.ShifuInfo{BID: s.BID, Title: s.Title, Price: s.Price}, nil
}

// GetShifuStruct returns the validated outline tree; draft rows are read for preview.
func (p *StructProvider) GetShifuStruct(ctx context.Context, shifuBID string, preview bool) (*types.OutlineTree, error) {
	v, err, shared := p.group.Do(universeKey(shifuBID, preview), func() (any, error) {
		// The shared load must not die with whichever caller started it.
		return p.load(context.WithoutCancel(ctx), shifuBID, preview)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.log.Debug("outline load shared", "shifu_bid", shifuBID, "preview", preview)
	}
	return v.(*types.OutlineTree), nil
}

func (p *StructProvider) load(ctx context.Context, shifuBID string, preview bool) (*types.OutlineTree, error) {
	const op = "learn.GetShifuStruct"
	info, err := p.GetShifuDTO(ctx, shifuBID, preview)
	if err != nil {
		return nil, err
	}
	dbc := dbctx.New(ctx)
	items, err := p.structs.ListOutlineItems(dbc, shifuBID, preview)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, op, err)
	}
	blocks, err := p.structs.ListBlocks(dbc, shifuBID, preview)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, op, err)
	}
	tree, err := types.BuildOutlineTree(*info, preview, items, blocks)
	if err != nil {
		p.log.Error("invalid course outline", "shifu_bid", shifuBID, "preview", preview, "error", err)
		return nil, err
	}
	return tree, nil
}
