package transcode

import (
	"bufio"
	"io"

	"github.com/vertti/bgzify/internal/bgzf"
	"github.com/vertti/bgzify/internal/bitio"
	"github.com/vertti/bgzify/internal/deflate"
	"github.com/vertti/bgzify/internal/errs"
	"github.com/vertti/bgzify/internal/gzstream"
)

// Transcode converts a gzip stream into BGZF, selecting the
// single-threaded or parallel engine from the configuration.
func Transcode(r io.Reader, w io.Writer, cfg Config) (*Stats, error) {
	return TranscodeIndexed(r, w, cfg, nil)
}

// TranscodeIndexed is Transcode with an optional GZI index builder that
// receives every written block in output order.
func TranscodeIndexed(r io.Reader, w io.Writer, cfg Config, idx *bgzf.IndexBuilder) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized()

	if cfg.effectiveThreads() > 1 {
		return transcodeParallel(r, w, cfg, idx)
	}
	return transcodeSingle(r, w, cfg, idx)
}

// transcodeSingle runs the whole pipeline on the calling goroutine:
// parse, split, resolve, re-encode and frame block by block.
func transcodeSingle(r io.Reader, w io.Writer, cfg Config, idx *bgzf.IndexBuilder) (*Stats, error) {
	br := bitio.NewReader(bufio.NewReaderSize(r, cfg.BufferSize))
	out := bufio.NewWriterSize(w, cfg.BufferSize)
	bw := bgzf.NewWriter(out)
	enc := deflate.NewBlockWriter(cfg.dynamicHuffman())

	stats := &Stats{}
	builder := newBlockBuilder(cfg.BlockSize, cfg.recordAligned(), func(blk outputBlock) error {
		n, err := bw.WriteBlock(encodeBlock(enc, blk), blk.crc, blk.size)
		if err != nil {
			return err
		}
		stats.BlocksWritten++
		stats.OutputBytes += uint64(n)
		if idx != nil {
			idx.AddBlock(uint64(n), uint64(blk.size))
		}
		return nil
	})

	if err := drive(br, builder, cfg.Verify); err != nil {
		return stats, err
	}

	if err := bw.WriteEOF(); err != nil {
		return stats, err
	}
	stats.OutputBytes += uint64(len(bgzf.EOFBlock))
	stats.InputBytes = uint64(br.BitPosition() / 8)
	stats.RefsResolved = builder.refsResolved
	stats.RefsPreserved = builder.refsPreserved

	if err := out.Flush(); err != nil {
		return stats, errs.Wrap(errs.KindIO, err, "flushing output")
	}
	return stats, nil
}

// drive pulls every member and DEFLATE block out of the input and feeds
// the builder, flushing the final partial block at end of stream.
func drive(br *bitio.Reader, builder *blockBuilder, verify bool) error {
	hdr, err := gzstream.ReadHeader(br)
	if err != nil {
		return err
	}

	parser := deflate.NewParser(br)
	for hdr != nil {
		for {
			blk, err := parser.Next()
			if err != nil {
				return err
			}
			if err := feedBlock(builder, blk); err != nil {
				return err
			}
			if blk.Final {
				break
			}
		}

		br.AlignToByte()
		trailer, err := gzstream.ReadTrailer(br)
		if err != nil {
			return err
		}
		if verify {
			crc, n := builder.memberDigest()
			if crc != trailer.CRC32 {
				return errs.New(errs.KindCRCMismatch, "member crc %#08x, trailer says %#08x", crc, trailer.CRC32)
			}
			if uint32(n) != trailer.ISize {
				return errs.New(errs.KindSizeMismatch, "member decodes to %d bytes, trailer says %d", uint32(n), trailer.ISize)
			}
		}
		builder.resetMember()

		hdr, err = gzstream.ReadNext(br)
		if err != nil {
			return err
		}
		parser.Reset()
	}

	return builder.flush()
}

func feedBlock(builder *blockBuilder, blk *deflate.Block) error {
	if blk.Type == deflate.Stored {
		return builder.stored(blk.Raw)
	}
	for _, t := range blk.Tokens {
		if t.IsLiteral() {
			if err := builder.literal(t.Lit); err != nil {
				return err
			}
		} else {
			if err := builder.reference(t.Length, t.Distance); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeBlock re-encodes a self-contained block into a DEFLATE payload.
// When Huffman coding a pathological block would overflow the BGZF size
// budget, the expanded bytes are emitted as stored blocks instead.
func encodeBlock(enc *deflate.BlockWriter, blk outputBlock) []byte {
	payload := enc.Encode(blk.tokens)
	if bgzf.FramedSize(len(payload)) <= bgzf.MaxBlockSize {
		return payload
	}
	expanded := expandTokens(blk.tokens, make([]byte, 0, blk.size))
	return enc.EncodeStored(expanded)
}

// expandTokens materializes a self-contained token run. Every reference
// points within the run, so no window is needed.
func expandTokens(tokens []deflate.Token, dst []byte) []byte {
	for _, t := range tokens {
		if t.IsLiteral() {
			dst = append(dst, t.Lit)
			continue
		}
		start := len(dst) - int(t.Distance)
		for i := 0; i < int(t.Length); i++ {
			dst = append(dst, dst[start+i])
		}
	}
	return dst
}
