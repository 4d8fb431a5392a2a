package testutil

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/shifu-backend/internal/domain/learn"
)

// Lesson is a lesson leaf with its ordered block payloads. Block bids are
// "<lesson bid>-b<index>" unless BlockBIDs overrides them.
type Lesson struct {
	BID        string
	ParentBID  string
	Title      string
	AskEnabled bool
	Blocks     []learn.BlockPayload
	BlockBIDs  []string
}

type Course struct {
	BID      string
	Title    string
	Price    float64
	Draft    bool
	Chapters []string // chapter bids created as roots before lessons
	Lessons  []Lesson
}

// SeedCourse writes a course universe and returns its blocks in outline order.
func SeedCourse(tb testing.TB, db *gorm.DB, c Course) []*learn.Block {
	tb.Helper()
	title := c.Title
	if title == "" {
		title = c.BID
	}
	if err := db.Create(&learn.Shifu{
		ID:      uuid.New(),
		BID:     c.BID,
		IsDraft: c.Draft,
		Title:   title,
		Price:   c.Price,
	}).Error; err != nil {
		tb.Fatalf("seed shifu: %v", err)
	}

	pos := map[string]int{}
	next := func(parent string) int {
		pos[parent]++
		return pos[parent]
	}
	for _, ch := range c.Chapters {
		item := &learn.OutlineItem{
			ID: uuid.New(), BID: ch, IsDraft: c.Draft, ShifuBID: c.BID,
			Position: next(""), Type: learn.OutlineChapter, Title: ch,
		}
		if err := db.Create(item).Error; err != nil {
			tb.Fatalf("seed chapter: %v", err)
		}
	}

	var out []*learn.Block
	for _, l := range c.Lessons {
		item := &learn.OutlineItem{
			ID: uuid.New(), BID: l.BID, IsDraft: c.Draft, ShifuBID: c.BID, ParentBID: l.ParentBID,
			Position: next(l.ParentBID), Type: learn.OutlineLesson, Title: l.Title, AskEnabled: l.AskEnabled,
		}
		if err := db.Create(item).Error; err != nil {
			tb.Fatalf("seed lesson: %v", err)
		}
		for i, p := range l.Blocks {
			bid := l.BID + "-b" + strconv.Itoa(i)
			if i < len(l.BlockBIDs) && l.BlockBIDs[i] != "" {
				bid = l.BlockBIDs[i]
			}
			raw, err := learn.EncodePayload(p)
			if err != nil {
				tb.Fatalf("encode payload: %v", err)
			}
			b := &learn.Block{
				ID: uuid.New(), BID: bid, IsDraft: c.Draft, ShifuBID: c.BID, OutlineItemBID: l.BID,
				Position: i + 1, Type: p.BlockType(), Content: raw,
			}
			if err := db.Create(b).Error; err != nil {
				tb.Fatalf("seed block: %v", err)
			}
			out = append(out, b)
		}
	}
	return out
}

func SeedProfileKeys(tb testing.TB, db *gorm.DB, shifuBID string, keys ...string) {
	tb.Helper()
	for _, k := range keys {
		if err := db.Create(&learn.ProfileDefinition{ID: uuid.New(), ShifuBID: shifuBID, Key: k}).Error; err != nil {
			tb.Fatalf("seed profile key %s: %v", k, err)
		}
	}
}

func SeedUser(tb testing.TB, db *gorm.DB, userBID string, state learn.UserState) *learn.UserInfo {
	tb.Helper()
	u := &learn.UserInfo{ID: uuid.New(), UserBID: userBID, UserState: state}
	if err := db.Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}
