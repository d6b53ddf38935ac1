package deflate

import (
	"io"

	"github.com/vertti/bgzify/internal/bitio"
	"github.com/vertti/bgzify/internal/errs"
	"github.com/vertti/bgzify/internal/huffman"
)

// Parser reads DEFLATE blocks from a bit stream and yields their LZ77
// tokens without ever materializing plaintext. It is a pull parser in the
// style of a record scanner: call Next until the returned block has its
// Final flag set, then Reset before the next member's first block.
type Parser struct {
	br       *bitio.Reader
	finished bool

	// scratch for dynamic header decoding
	clLengths  [19]uint8
	allLengths []uint8
}

// NewParser creates a parser over br, which must be positioned at the
// first block header of a DEFLATE stream.
func NewParser(br *bitio.Reader) *Parser {
	return &Parser{br: br}
}

// Reset prepares the parser for another DEFLATE stream on the same reader.
func (p *Parser) Reset() {
	p.finished = false
}

// Finished reports whether the final block has been returned.
func (p *Parser) Finished() bool { return p.finished }

// Next parses and returns the next block. After the final block it
// returns (nil, io.EOF).
func (p *Parser) Next() (*Block, error) {
	if p.finished {
		return nil, io.EOF
	}

	final, err := p.br.ReadBit()
	if err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "block header")
	}
	btype, err := p.br.ReadBits(2)
	if err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "block header")
	}

	var blk *Block
	switch btype {
	case 0:
		blk, err = p.parseStored(final)
	case 1:
		blk, err = p.parseCompressed(final, FixedHuffman,
			nil, nil)
	case 2:
		blk, err = p.parseDynamic(final)
	default:
		return nil, errs.New(errs.KindMalformedDeflate, "reserved block type %d", btype)
	}
	if err != nil {
		return nil, err
	}

	if final {
		p.finished = true
	}
	blk.EndBit = p.br.BitPosition()
	return blk, nil
}

func (p *Parser) parseStored(final bool) (*Block, error) {
	p.br.AlignToByte()
	length, err := p.br.ReadUint16()
	if err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "stored block length")
	}
	nlen, err := p.br.ReadUint16()
	if err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "stored block length")
	}
	if length != ^nlen {
		return nil, errs.New(errs.KindMalformedDeflate, "stored block LEN/NLEN mismatch: %#04x vs %#04x", length, nlen)
	}
	raw := make([]byte, length)
	if err := p.br.ReadFull(raw); err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "stored block payload")
	}
	return &Block{Type: Stored, Final: final, Raw: raw}, nil
}

func (p *Parser) parseDynamic(final bool) (*Block, error) {
	hlit, err := p.br.ReadBits(5)
	if err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "dynamic header")
	}
	hdist, err := p.br.ReadBits(5)
	if err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "dynamic header")
	}
	hclen, err := p.br.ReadBits(4)
	if err != nil {
		return nil, errs.Wrap(errs.KindTruncated, err, "dynamic header")
	}
	numLit := int(hlit) + 257
	numDist := int(hdist) + 1
	numCL := int(hclen) + 4

	for i := range p.clLengths {
		p.clLengths[i] = 0
	}
	for i := 0; i < numCL; i++ {
		v, err := p.br.ReadBits(3)
		if err != nil {
			return nil, errs.Wrap(errs.KindTruncated, err, "code length header")
		}
		p.clLengths[codeLengthOrder[i]] = uint8(v)
	}
	clDecoder, err := huffman.NewDecoder(p.clLengths[:])
	if err != nil {
		return nil, err
	}

	total := numLit + numDist
	if cap(p.allLengths) < total {
		p.allLengths = make([]uint8, total)
	}
	all := p.allLengths[:0]
	for len(all) < total {
		sym, err := clDecoder.ReadSymbol(p.br)
		if err != nil {
			return nil, err
		}
		switch {
		case sym <= 15:
			all = append(all, uint8(sym))
		case sym == 16:
			if len(all) == 0 {
				return nil, errs.New(errs.KindMalformedDeflate, "code length repeat with no previous length")
			}
			n, err := p.br.ReadBits(2)
			if err != nil {
				return nil, errs.Wrap(errs.KindTruncated, err, "code length repeat")
			}
			prev := all[len(all)-1]
			for i := uint32(0); i < n+3; i++ {
				all = append(all, prev)
			}
		case sym == 17:
			n, err := p.br.ReadBits(3)
			if err != nil {
				return nil, errs.Wrap(errs.KindTruncated, err, "code length repeat")
			}
			for i := uint32(0); i < n+3; i++ {
				all = append(all, 0)
			}
		case sym == 18:
			n, err := p.br.ReadBits(7)
			if err != nil {
				return nil, errs.Wrap(errs.KindTruncated, err, "code length repeat")
			}
			for i := uint32(0); i < n+11; i++ {
				all = append(all, 0)
			}
		default:
			return nil, errs.New(errs.KindMalformedDeflate, "invalid code length symbol %d", sym)
		}
	}
	if len(all) != total {
		return nil, errs.New(errs.KindMalformedDeflate, "code length run overflows alphabet")
	}

	litDecoder, err := huffman.NewDecoder(all[:numLit])
	if err != nil {
		return nil, err
	}
	distDecoder, err := huffman.NewDecoder(all[numLit:])
	if err != nil {
		return nil, err
	}

	return p.parseCompressed(final, DynamicHuffman, litDecoder, distDecoder)
}

// parseCompressed decodes the token run of a fixed or dynamic block. Nil
// decoders select the fixed tables.
func (p *Parser) parseCompressed(final bool, typ BlockType, lit, dist *huffman.Decoder) (*Block, error) {
	if lit == nil {
		lit = huffman.FixedLiteralDecoder()
	}
	if dist == nil && typ == FixedHuffman {
		dist = huffman.FixedDistanceDecoder()
	}

	tokens := make([]Token, 0, 1024)
	for {
		sym, err := lit.ReadSymbol(p.br)
		if err != nil {
			return nil, err
		}
		switch {
		case sym < 256:
			tokens = append(tokens, Literal(byte(sym)))
		case sym == 256:
			return &Block{Type: typ, Final: final, Tokens: tokens}, nil
		case sym <= 285:
			extraBits := lengthExtra[sym-257]
			var extra uint32
			if extraBits > 0 {
				extra, err = p.br.ReadBits(uint(extraBits))
				if err != nil {
					return nil, errs.Wrap(errs.KindTruncated, err, "length extra bits")
				}
			}
			length, _ := DecodeLength(sym, extra)

			if dist == nil || dist.Empty() {
				return nil, errs.New(errs.KindMalformedDeflate, "length code in block without distance codes")
			}
			distSym, err := dist.ReadSymbol(p.br)
			if err != nil {
				return nil, err
			}
			if distSym > 29 {
				return nil, errs.New(errs.KindMalformedDeflate, "reserved distance code %d", distSym)
			}
			distExtraBits := distanceExtra[distSym]
			var distExtra uint32
			if distExtraBits > 0 {
				distExtra, err = p.br.ReadBits(uint(distExtraBits))
				if err != nil {
					return nil, errs.Wrap(errs.KindTruncated, err, "distance extra bits")
				}
			}
			distance, _ := DecodeDistance(distSym, distExtra)
			tokens = append(tokens, Reference(length, distance))
		default:
			return nil, errs.New(errs.KindMalformedDeflate, "reserved literal/length code %d", sym)
		}
	}
}
