package bgzf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/vertti/bgzify/internal/errs"
)

// Sniff reports whether the stream starts with a BGZF block header. It
// peeks without consuming, so the reader can still be copied or transcoded
// afterwards. Short or non-gzip inputs report false, not an error.
func Sniff(br *bufio.Reader) (bool, error) {
	header, err := br.Peek(HeaderSize)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, errs.Wrap(errs.KindIO, err, "peeking input")
	}
	return isBlockHeader(header), nil
}

func isBlockHeader(h []byte) bool {
	if len(h) < HeaderSize {
		return false
	}
	if h[0] != 0x1f || h[1] != 0x8b || h[2] != 0x08 {
		return false
	}
	if h[3]&0x04 == 0 { // FEXTRA
		return false
	}
	xlen := int(binary.LittleEndian.Uint16(h[10:12]))
	if xlen < 6 {
		return false
	}
	if h[12] != 'B' || h[13] != 'C' {
		return false
	}
	return binary.LittleEndian.Uint16(h[14:16]) == 2
}

// Validation is the result of walking a BGZF stream's block structure.
type Validation struct {
	Valid         bool
	Blocks        uint64
	Uncompressed  uint64
	HasTerminator bool
}

// Validate walks every block header in the stream, checking structure and
// size bounds without decompressing. It consumes the reader.
func Validate(r io.Reader) (*Validation, error) {
	return walk(r, false)
}

// Verify walks every block and additionally inflates each payload,
// checking the stored CRC32 and ISIZE. It consumes the reader.
func Verify(r io.Reader) (*Validation, error) {
	return walk(r, true)
}

func walk(r io.Reader, inflate bool) (*Validation, error) {
	v := &Validation{}
	header := make([]byte, HeaderSize)
	var body []byte

	for {
		_, err := io.ReadFull(r, header)
		if err == io.EOF {
			v.Valid = v.Blocks > 0 && v.HasTerminator
			return v, nil
		}
		if err != nil {
			return v, errs.Wrap(errs.KindTruncated, err, "bgzf block header")
		}
		if !isBlockHeader(header) {
			return v, nil
		}

		bsize := int(binary.LittleEndian.Uint16(header[16:18])) + 1
		rest := bsize - HeaderSize
		if rest < FooterSize {
			return v, nil
		}
		if cap(body) < rest {
			body = make([]byte, rest)
		}
		body = body[:rest]
		if _, err := io.ReadFull(r, body); err != nil {
			return v, errs.Wrap(errs.KindTruncated, err, "bgzf block body")
		}

		payload := body[:rest-FooterSize]
		wantCRC := binary.LittleEndian.Uint32(body[rest-8:])
		isize := binary.LittleEndian.Uint32(body[rest-4:])
		if isize > MaxUncompressed {
			return v, nil
		}

		if inflate {
			if err := checkPayload(payload, wantCRC, isize); err != nil {
				return v, err
			}
		}

		v.Blocks++
		v.Uncompressed += uint64(isize)
		v.HasTerminator = isize == 0 && bsize == len(EOFBlock)
	}
}

// checkPayload inflates one block payload and compares digest and size
// with the footer.
func checkPayload(payload []byte, wantCRC, wantSize uint32) error {
	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()

	crc := crc32.NewIEEE()
	n, err := io.Copy(crc, fr)
	if err != nil {
		return errs.Wrap(errs.KindMalformedDeflate, err, "inflating bgzf block")
	}
	if uint32(n) != wantSize {
		return errs.New(errs.KindSizeMismatch, "bgzf block decodes to %d bytes, footer says %d", n, wantSize)
	}
	if crc.Sum32() != wantCRC {
		return errs.New(errs.KindCRCMismatch, "bgzf block crc %#08x, footer says %#08x", crc.Sum32(), wantCRC)
	}
	return nil
}
