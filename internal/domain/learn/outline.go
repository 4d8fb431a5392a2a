package learn

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OutlineItemType string

const (
	OutlineChapter OutlineItemType = "chapter"
	OutlineLesson  OutlineItemType = "lesson"
)

// Shifu is a course header. Draft rows are author-editable; published rows are
// the immutable snapshot served to learners.
type Shifu struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BID     string    `gorm:"column:shifu_bid;not null;uniqueIndex:idx_shifu_bid_draft,priority:1" json:"shifu_bid"`
	IsDraft bool      `gorm:"column:is_draft;not null;default:false;uniqueIndex:idx_shifu_bid_draft,priority:2" json:"is_draft"`
	Title   string    `gorm:"column:title;not null;default:''" json:"title"`
	Price   float64   `gorm:"column:price;not null;default:0" json:"price"`
	Version int       `gorm:"column:version;not null;default:1" json:"version"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Shifu) TableName() string { return "shifu" }

type OutlineItem struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BID        string          `gorm:"column:outline_item_bid;not null;uniqueIndex:idx_outline_bid_draft,priority:1" json:"outline_item_bid"`
	IsDraft    bool            `gorm:"column:is_draft;not null;default:false;uniqueIndex:idx_outline_bid_draft,priority:2" json:"is_draft"`
	ShifuBID   string          `gorm:"column:shifu_bid;not null;index" json:"shifu_bid"`
	ParentBID  string          `gorm:"column:parent_bid;not null;default:''" json:"parent_bid"`
	Position   int             `gorm:"column:position;not null;default:0" json:"position"`
	Type       OutlineItemType `gorm:"column:type;not null" json:"type"`
	Title      string          `gorm:"column:title;not null;default:''" json:"title"`
	AskEnabled bool            `gorm:"column:ask_enabled;not null;default:false" json:"ask_enabled"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (OutlineItem) TableName() string { return "shifu_outline_item" }

// ShifuInfo is the slim course view the engine needs.
type ShifuInfo struct {
	BID   string  `json:"bid"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

type OutlineNode struct {
	Item     *OutlineItem
	Children []*OutlineNode
	Blocks   []*Block
}

// Cursor addresses one block: the index of a lesson leaf in depth-first order and the
// block index inside it.
type Cursor struct {
	Leaf  int
	Block int
}

// OutlineTree is an immutable, validated view of one course universe.
type OutlineTree struct {
	Shifu   ShifuInfo
	Preview bool
	Roots   []*OutlineNode

	leaves    []*OutlineNode
	leafIndex map[string]int
	blockPos  map[string]Cursor
}

// BuildOutlineTree assembles items and blocks into a tree. It rejects dangling parents,
// cycles and duplicate sibling positions, and orders blocks by position.
func BuildOutlineTree(info ShifuInfo, preview bool, items []*OutlineItem, blocks []*Block) (*OutlineTree, error) {
	const op = "learn.BuildOutlineTree"
	nodes := make(map[string]*OutlineNode, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if _, dup := nodes[it.BID]; dup {
			return nil, NewError(CodeInvalidStruct, op, fmt.Sprintf("duplicate outline item %s", it.BID), nil)
		}
		nodes[it.BID] = &OutlineNode{Item: it}
	}

	tree := &OutlineTree{Shifu: info, Preview: preview}
	for _, it := range items {
		if it == nil {
			continue
		}
		n := nodes[it.BID]
		if it.ParentBID == "" {
			tree.Roots = append(tree.Roots, n)
			continue
		}
		parent, ok := nodes[it.ParentBID]
		if !ok {
			return nil, NewError(CodeInvalidStruct, op, fmt.Sprintf("outline item %s has unknown parent %s", it.BID, it.ParentBID), nil)
		}
		parent.Children = append(parent.Children, n)
	}

	for _, b := range blocks {
		if b == nil {
			continue
		}
		n, ok := nodes[b.OutlineItemBID]
		if !ok {
			return nil, NewError(CodeInvalidStruct, op, fmt.Sprintf("block %s references unknown outline item %s", b.BID, b.OutlineItemBID), nil)
		}
		n.Blocks = append(n.Blocks, b)
	}

	if err := sortSiblings(tree.Roots); err != nil {
		return nil, err
	}

	visited := make(map[string]bool, len(nodes))
	var walk func(list []*OutlineNode, depth int) error
	walk = func(list []*OutlineNode, depth int) error {
		for _, n := range list {
			if visited[n.Item.BID] || depth > len(nodes) {
				return NewError(CodeInvalidStruct, op, fmt.Sprintf("outline cycle at %s", n.Item.BID), nil)
			}
			visited[n.Item.BID] = true
			if err := sortSiblings(n.Children); err != nil {
				return err
			}
			sort.SliceStable(n.Blocks, func(i, j int) bool { return n.Blocks[i].Position < n.Blocks[j].Position })
			if len(n.Children) == 0 {
				tree.leaves = append(tree.leaves, n)
				continue
			}
			if err := walk(n.Children, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(tree.Roots, 0); err != nil {
		return nil, err
	}
	if len(visited) != len(nodes) {
		return nil, NewError(CodeInvalidStruct, op, "outline contains items unreachable from a root", nil)
	}

	tree.leafIndex = make(map[string]int, len(tree.leaves))
	tree.blockPos = make(map[string]Cursor)
	for i, leaf := range tree.leaves {
		tree.leafIndex[leaf.Item.BID] = i
		for j, b := range leaf.Blocks {
			tree.blockPos[b.BID] = Cursor{Leaf: i, Block: j}
		}
	}
	return tree, nil
}

func sortSiblings(list []*OutlineNode) error {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Item.Position < list[j].Item.Position })
	for i := 1; i < len(list); i++ {
		if list[i].Item.Position <= list[i-1].Item.Position {
			return NewError(CodeInvalidStruct, "learn.BuildOutlineTree",
				fmt.Sprintf("sibling positions not strictly increasing at %s", list[i].Item.BID), nil)
		}
	}
	return nil
}

func (t *OutlineTree) Leaves() []*OutlineNode { return t.leaves }

// Start returns the first block position at or after the first leaf, skipping empty leaves.
func (t *OutlineTree) Start() (Cursor, bool) {
	return t.normalize(Cursor{Leaf: 0, Block: 0})
}

// Next returns the position after c, crossing into following leaves as needed.
func (t *OutlineTree) Next(c Cursor) (Cursor, bool) {
	return t.normalize(Cursor{Leaf: c.Leaf, Block: c.Block + 1})
}

func (t *OutlineTree) normalize(c Cursor) (Cursor, bool) {
	for c.Leaf < len(t.leaves) {
		if c.Block < len(t.leaves[c.Leaf].Blocks) {
			return c, true
		}
		c = Cursor{Leaf: c.Leaf + 1, Block: 0}
	}
	return Cursor{}, false
}

// Locate maps a persisted (outline item, block position) pair back to a cursor.
func (t *OutlineTree) Locate(outlineItemBID string, blockPosition int) (Cursor, bool) {
	i, ok := t.leafIndex[outlineItemBID]
	if !ok {
		return Cursor{}, false
	}
	if blockPosition < 0 {
		blockPosition = 0
	}
	return t.normalize(Cursor{Leaf: i, Block: blockPosition})
}

func (t *OutlineTree) FindBlock(blockBID string) (Cursor, bool) {
	c, ok := t.blockPos[blockBID]
	return c, ok
}

// FindDestination resolves a goto destination: a block bid, or an outline item bid
// meaning its first block.
func (t *OutlineTree) FindDestination(bid string) (Cursor, bool) {
	if c, ok := t.blockPos[bid]; ok {
		return c, true
	}
	if i, ok := t.leafIndex[bid]; ok {
		return t.normalize(Cursor{Leaf: i, Block: 0})
	}
	for _, leaf := range t.leaves {
		for p := leaf.Item; p != nil; p = t.parentOf(p) {
			if p.BID == bid {
				return t.normalize(Cursor{Leaf: t.leafIndex[leaf.Item.BID], Block: 0})
			}
		}
	}
	return Cursor{}, false
}

func (t *OutlineTree) parentOf(it *OutlineItem) *OutlineItem {
	if it.ParentBID == "" {
		return nil
	}
	var found *OutlineItem
	var walk func(list []*OutlineNode)
	walk = func(list []*OutlineNode) {
		for _, n := range list {
			if found != nil {
				return
			}
			if n.Item.BID == it.ParentBID {
				found = n.Item
				return
			}
			walk(n.Children)
		}
	}
	walk(t.Roots)
	return found
}

func (t *OutlineTree) Leaf(c Cursor) *OutlineNode {
	if c.Leaf < 0 || c.Leaf >= len(t.leaves) {
		return nil
	}
	return t.leaves[c.Leaf]
}

func (t *OutlineTree) Block(c Cursor) *Block {
	leaf := t.Leaf(c)
	if leaf == nil || c.Block < 0 || c.Block >= len(leaf.Blocks) {
		return nil
	}
	return leaf.Blocks[c.Block]
}
