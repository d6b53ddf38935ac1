package deflate

import (
	"github.com/vertti/bgzify/internal/bitio"
	"github.com/vertti/bgzify/internal/huffman"
)

const (
	maxCodeBits   = 15
	maxCLCodeBits = 7
	numLitSymbols = 286
	numDistCodes  = 30
	maxStoredLen  = 65535
)

// BlockWriter re-encodes LZ77 token runs into complete DEFLATE streams.
// Each Encode call produces a stream of exactly one block with BFINAL set,
// and EncodeStored a run of stored blocks ending in one with BFINAL set, so
// the result can stand alone inside a BGZF member.
//
// With dynamic disabled the fixed RFC 1951 tables are used; otherwise a
// Huffman table pair is built from the block's own symbol frequencies.
//
// The writer reuses internal buffers: returned slices are valid only until
// the next call.
type BlockWriter struct {
	dynamic bool
	bw      *bitio.Writer

	litFreq  [numLitSymbols]uint32
	distFreq [numDistCodes]uint32
}

// NewBlockWriter creates a block writer. dynamic selects per-block dynamic
// Huffman tables over the fixed ones.
func NewBlockWriter(dynamic bool) *BlockWriter {
	return &BlockWriter{
		dynamic: dynamic,
		bw:      bitio.NewWriter(64 * 1024),
	}
}

// Encode writes tokens as one final DEFLATE block and returns the encoded
// stream.
func (w *BlockWriter) Encode(tokens []Token) []byte {
	w.bw.Reset()
	w.bw.WriteBit(true) // BFINAL
	if w.dynamic {
		w.bw.WriteBits(2, 2) // BTYPE=10
		w.encodeDynamic(tokens)
	} else {
		w.bw.WriteBits(1, 2) // BTYPE=01
		w.encodeTokens(tokens, huffman.FixedLiteralCodes(), huffman.FixedDistanceCodes())
	}
	return w.bw.Bytes()
}

// EncodeStored writes data as DEFLATE stored blocks with BFINAL on the
// last. Used when Huffman coding would overflow the BGZF size budget.
func (w *BlockWriter) EncodeStored(data []byte) []byte {
	w.bw.Reset()
	for {
		chunk := data
		if len(chunk) > maxStoredLen {
			chunk = chunk[:maxStoredLen]
		}
		data = data[len(chunk):]
		final := len(data) == 0

		w.bw.WriteBit(final)
		w.bw.WriteBits(0, 2) // BTYPE=00
		w.bw.WriteUint16(uint16(len(chunk)))
		w.bw.WriteUint16(^uint16(len(chunk)))
		w.bw.WriteBytes(chunk)
		if final {
			return w.bw.Bytes()
		}
	}
}

func (w *BlockWriter) encodeTokens(tokens []Token, litCodes, distCodes []huffman.Code) {
	for _, t := range tokens {
		if t.IsLiteral() {
			c := litCodes[t.Lit]
			w.bw.WriteBits(c.Bits, uint(c.Len))
			continue
		}
		code, extra, bits := EncodeLength(t.Length)
		c := litCodes[code]
		w.bw.WriteBits(c.Bits, uint(c.Len))
		if bits > 0 {
			w.bw.WriteBits(uint32(extra), uint(bits))
		}
		code, extra, bits = EncodeDistance(t.Distance)
		c = distCodes[code]
		w.bw.WriteBits(c.Bits, uint(c.Len))
		if bits > 0 {
			w.bw.WriteBits(uint32(extra), uint(bits))
		}
	}
	eob := litCodes[256]
	w.bw.WriteBits(eob.Bits, uint(eob.Len))
}

func (w *BlockWriter) encodeDynamic(tokens []Token) {
	for i := range w.litFreq {
		w.litFreq[i] = 0
	}
	for i := range w.distFreq {
		w.distFreq[i] = 0
	}
	for _, t := range tokens {
		if t.IsLiteral() {
			w.litFreq[t.Lit]++
			continue
		}
		code, _, _ := EncodeLength(t.Length)
		w.litFreq[code]++
		code, _, _ = EncodeDistance(t.Distance)
		w.distFreq[code]++
	}
	w.litFreq[256]++ // end-of-block

	numLit := 257
	for i := numLitSymbols - 1; i >= 257; i-- {
		if w.litFreq[i] > 0 {
			numLit = i + 1
			break
		}
	}
	numDist := 1
	for i := numDistCodes - 1; i >= 1; i-- {
		if w.distFreq[i] > 0 {
			numDist = i + 1
			break
		}
	}

	litLengths := huffman.ComputeLengths(w.litFreq[:numLit], maxCodeBits)
	distLengths := huffman.ComputeLengths(w.distFreq[:numDist], maxCodeBits)

	// DEFLATE requires at least one distance code even when none is used.
	allZero := true
	for _, l := range distLengths {
		if l != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		distLengths[0] = 1
	}

	litCodes := huffman.CodesFromLengths(litLengths)
	distCodes := huffman.CodesFromLengths(distLengths)

	w.writeDynamicHeader(litLengths, distLengths)
	w.encodeTokens(tokens, litCodes, distCodes)
}

// writeDynamicHeader emits HLIT, HDIST, HCLEN, the code-length code
// lengths and the run-length-encoded literal+distance code lengths
// (RFC 1951 section 3.2.7).
func (w *BlockWriter) writeDynamicHeader(litLengths, distLengths []uint8) {
	combined := make([]uint8, 0, len(litLengths)+len(distLengths))
	combined = append(combined, litLengths...)
	combined = append(combined, distLengths...)
	rle := rleEncodeLengths(combined)

	var clFreq [19]uint32
	for _, e := range rle {
		clFreq[e.sym]++
	}
	clLengths := huffman.ComputeLengths(clFreq[:], maxCLCodeBits)
	clCodes := huffman.CodesFromLengths(clLengths)

	numCL := 4
	for i := len(codeLengthOrder) - 1; i >= 0; i-- {
		if clLengths[codeLengthOrder[i]] > 0 {
			numCL = i + 1
			break
		}
	}
	if numCL < 4 {
		numCL = 4
	}

	w.bw.WriteBits(uint32(len(litLengths)-257), 5)
	w.bw.WriteBits(uint32(len(distLengths)-1), 5)
	w.bw.WriteBits(uint32(numCL-4), 4)
	for i := 0; i < numCL; i++ {
		w.bw.WriteBits(uint32(clLengths[codeLengthOrder[i]]), 3)
	}

	for _, e := range rle {
		c := clCodes[e.sym]
		w.bw.WriteBits(c.Bits, uint(c.Len))
		switch e.sym {
		case 16:
			w.bw.WriteBits(uint32(e.extra), 2)
		case 17:
			w.bw.WriteBits(uint32(e.extra), 3)
		case 18:
			w.bw.WriteBits(uint32(e.extra), 7)
		}
	}
}

type rleEntry struct {
	sym   uint8
	extra uint8
}

// rleEncodeLengths compresses a code-length vector with the 16/17/18
// repeat symbols.
func rleEncodeLengths(lengths []uint8) []rleEntry {
	var out []rleEntry
	i := 0
	for i < len(lengths) {
		v := lengths[i]
		run := 1
		for i+run < len(lengths) && lengths[i+run] == v {
			run++
		}
		i += run

		if v == 0 {
			for run > 0 {
				switch {
				case run >= 11:
					n := run
					if n > 138 {
						n = 138
					}
					out = append(out, rleEntry{18, uint8(n - 11)})
					run -= n
				case run >= 3:
					out = append(out, rleEntry{17, uint8(run - 3)})
					run = 0
				default:
					out = append(out, rleEntry{0, 0})
					run--
				}
			}
			continue
		}

		out = append(out, rleEntry{v, 0})
		run--
		for run > 0 {
			if run >= 3 {
				n := run
				if n > 6 {
					n = 6
				}
				out = append(out, rleEntry{16, uint8(n - 3)})
				run -= n
			} else {
				out = append(out, rleEntry{v, 0})
				run--
			}
		}
	}
	return out
}
