package transcode

import (
	"hash/crc32"

	"github.com/vertti/bgzify/internal/deflate"
)

// outputBlock is one finalized, self-contained BGZF block candidate: every
// reference in Tokens points within the block, so it can be expanded and
// re-encoded with no outside state.
type outputBlock struct {
	seq    int
	tokens []deflate.Token
	size   int
	crc    uint32
}

// blockBuilder accumulates tokens into output blocks, resolving references
// that would reach across an already-sealed block boundary. It owns the
// sliding window and all cross-block state; the emit callback receives
// finalized blocks in order.
type blockBuilder struct {
	win     window
	split   splitter
	ceiling int
	emit    func(outputBlock) error

	tokens []deflate.Token
	size   int
	crc    uint32
	seq    int

	// expansion scratch, reused per token
	scratch []byte

	// per-member accounting for verify mode
	memberCRC uint32
	memberLen uint64

	refsResolved  uint64
	refsPreserved uint64
}

func newBlockBuilder(ceiling int, recordAligned bool, emit func(outputBlock) error) *blockBuilder {
	var split splitter = sizeSplitter{}
	if recordAligned {
		split = newRecordSplitter(ceiling)
	}
	return &blockBuilder{
		split:   split,
		ceiling: ceiling,
		emit:    emit,
		tokens:  make([]deflate.Token, 0, 8192),
		scratch: make([]byte, 0, 512),
	}
}

// literal appends one literal byte.
func (b *blockBuilder) literal(c byte) error {
	if b.size+1 > b.ceiling && b.size > 0 {
		if err := b.flush(); err != nil {
			return err
		}
	}
	b.tokens = append(b.tokens, deflate.Literal(c))
	b.win.push(c)
	one := [1]byte{c}
	b.account(one[:])
	b.split.observe(one[:])
	return b.maybeCut()
}

// reference appends a back-reference, literalizing it when its target lies
// in an earlier block.
func (b *blockBuilder) reference(length, distance uint16) error {
	if b.size+int(length) > b.ceiling && b.size > 0 {
		if err := b.flush(); err != nil {
			return err
		}
	}

	b.scratch = b.win.readBack(int(distance), int(length), b.scratch[:0])

	if int(distance) > b.size {
		// Target reaches into a sealed block: emit the bytes themselves.
		for _, c := range b.scratch {
			b.tokens = append(b.tokens, deflate.Literal(c))
		}
		b.refsResolved++
	} else {
		b.tokens = append(b.tokens, deflate.Reference(length, distance))
		b.refsPreserved++
	}
	b.win.pushAll(b.scratch)
	b.account(b.scratch)
	b.split.observe(b.scratch)
	return b.maybeCut()
}

// stored appends the payload of a stored DEFLATE block as literals.
func (b *blockBuilder) stored(p []byte) error {
	for _, c := range p {
		if err := b.literal(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *blockBuilder) account(p []byte) {
	b.size += len(p)
	b.crc = crc32.Update(b.crc, crc32.IEEETable, p)
	b.memberCRC = crc32.Update(b.memberCRC, crc32.IEEETable, p)
	b.memberLen += uint64(len(p))
}

func (b *blockBuilder) maybeCut() error {
	if b.split.cut(b.size) {
		return b.flush()
	}
	return nil
}

// flush finalizes the pending block, if any.
func (b *blockBuilder) flush() error {
	if b.size == 0 {
		return nil
	}
	blk := outputBlock{
		seq:    b.seq,
		tokens: b.tokens,
		size:   b.size,
		crc:    b.crc,
	}
	b.seq++
	b.tokens = make([]deflate.Token, 0, cap(b.tokens))
	b.size = 0
	b.crc = 0
	return b.emit(blk)
}

// memberDigest returns the CRC32 and byte count accumulated since the last
// resetMember, for comparison against the gzip trailer.
func (b *blockBuilder) memberDigest() (uint32, uint64) {
	return b.memberCRC, b.memberLen
}

func (b *blockBuilder) resetMember() {
	b.memberCRC = 0
	b.memberLen = 0
}
