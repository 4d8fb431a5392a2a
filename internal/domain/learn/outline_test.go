package learn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(bid, parent string, pos int) *OutlineItem {
	return &OutlineItem{BID: bid, ParentBID: parent, Position: pos, Type: OutlineLesson}
}

func block(bid, outline string, pos int) *Block {
	return &Block{BID: bid, OutlineItemBID: outline, Position: pos, Type: BlockContent}
}

func sampleTree(t *testing.T) *OutlineTree {
	t.Helper()
	items := []*OutlineItem{
		item("ch2", "", 2),
		item("ch1", "", 1),
		item("l1", "ch1", 1),
		item("l2", "ch1", 2),
		item("l3", "ch2", 1),
	}
	blocks := []*Block{
		block("b2", "l1", 2),
		block("b1", "l1", 1),
		block("b3", "l3", 1),
	}
	tree, err := BuildOutlineTree(ShifuInfo{BID: "s1"}, false, items, blocks)
	require.NoError(t, err)
	return tree
}

func TestBuildOutlineTreeOrdersLeavesAndBlocks(t *testing.T) {
	tree := sampleTree(t)

	var leaves []string
	for _, l := range tree.Leaves() {
		leaves = append(leaves, l.Item.BID)
	}
	assert.Equal(t, []string{"l1", "l2", "l3"}, leaves)
	assert.Equal(t, "b1", tree.Leaves()[0].Blocks[0].BID)
	assert.Equal(t, "b2", tree.Leaves()[0].Blocks[1].BID)
}

func TestBuildOutlineTreeRejectsBadStructure(t *testing.T) {
	tests := []struct {
		name   string
		items  []*OutlineItem
		blocks []*Block
	}{
		{"duplicate item", []*OutlineItem{item("a", "", 1), item("a", "", 2)}, nil},
		{"unknown parent", []*OutlineItem{item("a", "ghost", 1)}, nil},
		{"duplicate sibling position", []*OutlineItem{item("a", "", 1), item("b", "", 1)}, nil},
		{"cycle", []*OutlineItem{item("r", "", 1), item("a", "b", 1), item("b", "a", 1)}, nil},
		{"block in unknown item", []*OutlineItem{item("a", "", 1)}, []*Block{block("x", "nope", 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildOutlineTree(ShifuInfo{BID: "s1"}, false, tt.items, tt.blocks)
			require.Error(t, err)
			assert.True(t, IsCode(err, CodeInvalidStruct), "got %v", err)
		})
	}
}

func TestCursorNavigation(t *testing.T) {
	tree := sampleTree(t)

	start, ok := tree.Start()
	require.True(t, ok)
	assert.Equal(t, Cursor{Leaf: 0, Block: 0}, start)

	next, ok := tree.Next(Cursor{Leaf: 0, Block: 1})
	require.True(t, ok)
	assert.Equal(t, Cursor{Leaf: 2, Block: 0}, next, "empty leaf l2 is skipped")

	_, ok = tree.Next(Cursor{Leaf: 2, Block: 0})
	assert.False(t, ok)

	c, ok := tree.Locate("l1", 2)
	require.True(t, ok)
	assert.Equal(t, Cursor{Leaf: 2, Block: 0}, c, "past-the-end position moves forward")

	_, ok = tree.Locate("missing", 0)
	assert.False(t, ok)
}

func TestFindDestination(t *testing.T) {
	tree := sampleTree(t)

	c, ok := tree.FindDestination("b2")
	require.True(t, ok)
	assert.Equal(t, Cursor{Leaf: 0, Block: 1}, c)

	c, ok = tree.FindDestination("l3")
	require.True(t, ok)
	assert.Equal(t, Cursor{Leaf: 2, Block: 0}, c)

	c, ok = tree.FindDestination("ch2")
	require.True(t, ok)
	assert.Equal(t, Cursor{Leaf: 2, Block: 0}, c)

	_, ok = tree.FindDestination("nowhere")
	assert.False(t, ok)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(BlockOptions, []byte(`{"options":[{"label":"A","value":"a"}],"result_variable_bid":"v"}`))
	require.NoError(t, err)
	op, ok := p.(OptionsPayload)
	require.True(t, ok)
	assert.Equal(t, "v", op.ResultVariableBID)

	_, err = DecodePayload(BlockOptions, []byte(`{"options":[]}`))
	assert.Error(t, err)

	_, err = DecodePayload(BlockGoto, []byte(`{"targets":[{"value":"x"}]}`))
	assert.Error(t, err)

	_, err = DecodePayload(BlockInput, []byte(`not json`))
	assert.Error(t, err)

	p, err = DecodePayload(BlockButton, nil)
	require.NoError(t, err)
	assert.Equal(t, BlockButton, p.BlockType())

	p, err = DecodePayload("video", []byte(`{}`))
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestEncodePayloadRoundTrip(t *testing.T) {
	raw, err := EncodePayload(GotoPayload{VariableBID: "level", Targets: []GotoTarget{{Value: "hi", DestinationBID: "l3"}}})
	require.NoError(t, err)
	p, err := DecodePayload(BlockGoto, raw)
	require.NoError(t, err)
	assert.Equal(t, "l3", p.(GotoPayload).Targets[0].DestinationBID)
}

func TestErrorHelpers(t *testing.T) {
	err := NewError(CodeGotoCycle, "learn.goto", "b4", nil)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, "learn.goto: b4 (goto_cycle)", err.Error())

	wrapped := Wrap(CodeInternal, "outer", err)
	assert.Equal(t, CodeGotoCycle, CodeOf(wrapped), "existing code wins")
	assert.False(t, IsConfigError(NewError(CodeBusy, "", "", nil)))
	assert.Nil(t, Wrap(CodeInternal, "op", nil))
}
