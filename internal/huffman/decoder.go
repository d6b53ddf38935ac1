// Package huffman implements canonical Huffman coding for DEFLATE streams:
// a two-level table decoder, code-length computation for encoding, and the
// fixed tables from RFC 1951.
package huffman

import (
	"math/bits"

	"github.com/vertti/bgzify/internal/bitio"
	"github.com/vertti/bgzify/internal/errs"
)

const (
	// MaxCodeLen is the longest DEFLATE Huffman code.
	MaxCodeLen = 15

	// chunkBits is the width of the first-level lookup. Codes no longer
	// than this resolve in a single table read; longer codes indirect
	// through a second-level link table.
	chunkBits = 9
	numChunks = 1 << chunkBits

	countMask  = 15
	valueShift = 4
)

// Decoder decodes canonical Huffman codes from an LSB-first bit stream.
//
// chunks is indexed by the next chunkBits of input (bit-reversed, as they
// appear in the stream). Each entry packs symbol<<valueShift | codeLength.
// Entries for codes longer than chunkBits instead hold a link-table index
// and the sentinel length chunkBits+1.
type Decoder struct {
	min      uint
	chunks   [numChunks]uint32
	links    [][]uint32
	linkMask uint32
}

// NewDecoder builds a decoder from per-symbol code lengths (0 = unused).
// Oversubscribed or otherwise invalid length sets are rejected.
func NewDecoder(lengths []uint8) (*Decoder, error) {
	var count [MaxCodeLen + 1]int
	var min, max uint
	for _, n := range lengths {
		if n == 0 {
			continue
		}
		if n > MaxCodeLen {
			return nil, errs.New(errs.KindMalformedDeflate, "huffman code length %d exceeds %d", n, MaxCodeLen)
		}
		if min == 0 || uint(n) < min {
			min = uint(n)
		}
		if uint(n) > max {
			max = uint(n)
		}
		count[n]++
	}
	h := &Decoder{}
	if max == 0 {
		// Empty table: valid for unused distance alphabets.
		return h, nil
	}

	code := 0
	var nextcode [MaxCodeLen + 1]int
	for i := min; i <= max; i++ {
		code <<= 1
		nextcode[i] = code
		code += count[i]
		if code > 1<<i {
			return nil, errs.New(errs.KindMalformedDeflate, "oversubscribed huffman table")
		}
	}
	// A single code of length 1 is the only incomplete set DEFLATE permits.
	if code != 1<<max && !(code == 1 && max == 1) {
		return nil, errs.New(errs.KindMalformedDeflate, "incomplete huffman table")
	}

	h.min = min
	if max > chunkBits {
		numLinks := 1 << (max - chunkBits)
		h.linkMask = uint32(numLinks - 1)

		link := nextcode[chunkBits+1] >> 1
		h.links = make([][]uint32, numChunks-link)
		for j := uint(link); j < numChunks; j++ {
			reverse := int(bits.Reverse16(uint16(j))) >> (16 - chunkBits)
			off := j - uint(link)
			h.chunks[reverse] = uint32(off<<valueShift | (chunkBits + 1))
			h.links[off] = make([]uint32, numLinks)
		}
	}

	for sym, n := range lengths {
		if n == 0 {
			continue
		}
		code := nextcode[n]
		nextcode[n]++
		chunk := uint32(sym<<valueShift | int(n))
		reverse := int(bits.Reverse16(uint16(code))) >> (16 - n)
		if uint(n) <= chunkBits {
			for off := reverse; off < numChunks; off += 1 << n {
				h.chunks[off] = chunk
			}
		} else {
			j := reverse & (numChunks - 1)
			value := h.chunks[j] >> valueShift
			linktab := h.links[value]
			reverse >>= chunkBits
			for off := reverse; off < len(linktab); off += 1 << (uint(n) - chunkBits) {
				linktab[off] = chunk
			}
		}
	}

	return h, nil
}

// Empty reports whether the decoder has no symbols.
func (h *Decoder) Empty() bool { return h.min == 0 }

// ReadSymbol decodes the next symbol from br.
func (h *Decoder) ReadSymbol(br *bitio.Reader) (uint16, error) {
	if h.min == 0 {
		return 0, errs.New(errs.KindMalformedDeflate, "symbol read from empty huffman table")
	}
	b, avail, err := br.PeekBits(MaxCodeLen)
	chunk := h.chunks[b&(numChunks-1)]
	n := uint(chunk & countMask)
	if n > chunkBits {
		chunk = h.links[chunk>>valueShift][(b>>chunkBits)&h.linkMask]
		n = uint(chunk & countMask)
	}
	if n == 0 || n > avail {
		if n == 0 || err == nil {
			return 0, errs.New(errs.KindMalformedDeflate, "invalid huffman code")
		}
		return 0, errs.Wrap(errs.KindTruncated, err, "huffman code")
	}
	br.Consume(n)
	return uint16(chunk >> valueShift), nil
}
