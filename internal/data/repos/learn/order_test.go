package learn

import (
	"context"
	"testing"

	"github.com/yungbote/shifu-backend/internal/data/repos/testutil"
	types "github.com/yungbote/shifu-backend/internal/domain/learn"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
)

func TestOrderRepo(t *testing.T) {
	db := testutil.DB(t)
	repo := NewOrderRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	if o, err := repo.QueryOrder(dbc, "u1", "s1"); err != nil || o != nil {
		t.Fatalf("QueryOrder empty: %v %v", o, err)
	}

	first, err := repo.InitBuyRecord(dbc, "u1", "s1", 9.9)
	if err != nil || first.Status != types.OrderInit || first.Price != 9.9 {
		t.Fatalf("InitBuyRecord: %+v %v", first, err)
	}
	again, err := repo.InitBuyRecord(dbc, "u1", "s1", 9.9)
	if err != nil || again.OrderBID != first.OrderBID {
		t.Fatalf("open order not reused: %v vs %v (%v)", again, first, err)
	}

	if err := repo.UpdateStatus(dbc, first.OrderBID, types.OrderSuccess); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := repo.QueryOrder(dbc, "u1", "s1")
	if err != nil || !got.Paid() {
		t.Fatalf("QueryOrder after pay: %+v %v", got, err)
	}

	// a paid order is never closed by a newer open one
	if _, err := repo.InitBuyRecord(dbc, "u1", "s1", 9.9); err != nil {
		t.Fatalf("InitBuyRecord after pay: %v", err)
	}
	got, err = repo.QueryOrder(dbc, "u1", "s1")
	if err != nil || !got.Paid() {
		t.Fatalf("paid order must win: %+v %v", got, err)
	}
}
