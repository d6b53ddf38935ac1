package bgzf

import (
	"encoding/binary"
	"io"
)

// IndexEntry maps the start of a BGZF block to its uncompressed offset.
type IndexEntry struct {
	CompressedOffset   uint64
	UncompressedOffset uint64
}

// IndexBuilder accumulates a GZI sidecar index while blocks are written.
// Following the GZI convention, the block at offset zero is implicit: only
// non-initial blocks get entries, and the terminator gets none.
type IndexBuilder struct {
	entries      []IndexEntry
	compressed   uint64
	uncompressed uint64
	blocks       uint64
}

// NewIndexBuilder creates an empty index.
func NewIndexBuilder() *IndexBuilder {
	return &IndexBuilder{}
}

// AddBlock records a written block by its on-wire and uncompressed sizes.
// Blocks must be added in output order.
func (b *IndexBuilder) AddBlock(compressedSize, uncompressedSize uint64) {
	if b.blocks > 0 {
		b.entries = append(b.entries, IndexEntry{
			CompressedOffset:   b.compressed,
			UncompressedOffset: b.uncompressed,
		})
	}
	b.compressed += compressedSize
	b.uncompressed += uncompressedSize
	b.blocks++
}

// Len returns the number of index entries (non-initial blocks).
func (b *IndexBuilder) Len() int { return len(b.entries) }

// Entries returns the recorded entries.
func (b *IndexBuilder) Entries() []IndexEntry { return b.entries }

// WriteTo serializes the index in GZI format: a little-endian uint64 entry
// count followed by (compressed, uncompressed) offset pairs.
func (b *IndexBuilder) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 8, 8+16*len(b.entries))
	binary.LittleEndian.PutUint64(buf, uint64(len(b.entries)))
	for _, e := range b.entries {
		buf = binary.LittleEndian.AppendUint64(buf, e.CompressedOffset)
		buf = binary.LittleEndian.AppendUint64(buf, e.UncompressedOffset)
	}
	n, err := w.Write(buf)
	return int64(n), err
}
