package record

import "github.com/weicao/cascadb/block"

func newTestBlock(n int) *block.Block {
	return block.New(n)
}
