// Package bgzf writes and inspects BGZF streams: gzip members carrying a
// BC extra subfield so readers can hop block to block without inflating,
// each holding at most 64 KiB of uncompressed data.
package bgzf

import (
	"io"

	"github.com/vertti/bgzify/internal/errs"
)

const (
	// HeaderSize is the fixed BGZF member header length.
	HeaderSize = 18
	// FooterSize is CRC32 + ISIZE.
	FooterSize = 8
	// MaxBlockSize caps the total on-wire member length.
	MaxBlockSize = 65536
	// MaxUncompressed caps the uncompressed bytes a member may declare.
	MaxUncompressed = 65535
	// DefaultBlockSize is the conventional uncompressed block ceiling.
	DefaultBlockSize = 65280
)

// EOFBlock is the canonical 28-byte terminator: an empty BGZF member that
// marks end of stream for conformant readers.
var EOFBlock = [28]byte{
	0x1f, 0x8b, 0x08, 0x04,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0xff,
	0x06, 0x00,
	0x42, 0x43,
	0x02, 0x00,
	0x1b, 0x00,
	0x03, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// FramedSize returns the on-wire member size for a DEFLATE payload length.
func FramedSize(payloadLen int) int {
	return HeaderSize + payloadLen + FooterSize
}

// AppendBlock appends one framed BGZF member to dst: header with the BC
// subfield, the DEFLATE payload, then CRC32 and ISIZE of the uncompressed
// bytes the payload represents.
func AppendBlock(dst []byte, payload []byte, crc uint32, uncompressedLen int) ([]byte, error) {
	total := FramedSize(len(payload))
	if total > MaxBlockSize {
		return dst, errs.New(errs.KindBlockTooLarge, "bgzf block of %d bytes exceeds %d", total, MaxBlockSize)
	}
	if uncompressedLen > MaxUncompressed {
		return dst, errs.New(errs.KindBlockTooLarge, "bgzf block declares %d uncompressed bytes, max %d", uncompressedLen, MaxUncompressed)
	}
	bsize := total - 1

	dst = append(dst,
		0x1f, 0x8b, // gzip magic
		0x08,                   // DEFLATE
		0x04,                   // FEXTRA
		0x00, 0x00, 0x00, 0x00, // mtime
		0x00,       // xfl
		0xff,       // OS unknown
		0x06, 0x00, // xlen = 6
		'B', 'C',
		0x02, 0x00, // subfield length
		byte(bsize), byte(bsize>>8),
	)
	dst = append(dst, payload...)
	dst = append(dst,
		byte(crc), byte(crc>>8), byte(crc>>16), byte(crc>>24),
		byte(uncompressedLen), byte(uncompressedLen>>8),
		byte(uncompressedLen>>16), byte(uncompressedLen>>24),
	)
	return dst, nil
}

// Writer frames BGZF members onto an io.Writer.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter creates a BGZF writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, MaxBlockSize)}
}

// WriteBlock frames and writes one member, returning its on-wire size.
func (w *Writer) WriteBlock(payload []byte, crc uint32, uncompressedLen int) (int, error) {
	var err error
	w.buf, err = AppendBlock(w.buf[:0], payload, crc, uncompressedLen)
	if err != nil {
		return 0, err
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "writing bgzf block")
	}
	return len(w.buf), nil
}

// WriteEOF writes the terminator block.
func (w *Writer) WriteEOF() error {
	if _, err := w.w.Write(EOFBlock[:]); err != nil {
		return errs.Wrap(errs.KindIO, err, "writing bgzf terminator")
	}
	return nil
}
