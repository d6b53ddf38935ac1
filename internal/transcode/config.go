package transcode

import (
	"runtime"

	"github.com/vertti/bgzify/internal/bgzf"
	"github.com/vertti/bgzify/internal/errs"
)

// Format selects the input profile, which drives the splitter policy.
type Format int

const (
	// FormatDefault applies no record alignment below level 7.
	FormatDefault Format = iota
	// FormatFASTQ enables record-aligned splitting and forces level >= 6.
	FormatFASTQ
)

const (
	minLevel = 1
	maxLevel = 9

	minBlockSize = 1024

	// DefaultBufferSize is the buffered I/O size around input and output.
	DefaultBufferSize = 128 * 1024

	maxThreads = 32
)

// Config holds the transcoding parameters.
type Config struct {
	// Level 1-9 selects the Huffman strategy (fixed below 4, dynamic from
	// 4 up) and the splitter policy (record-aligned from 7 up).
	Level int
	// BlockSize is the uncompressed byte ceiling per BGZF block.
	BlockSize int
	// Threads: 0 auto-detects, 1 runs the single-threaded engine, more
	// selects the parallel engine with that many encoding workers.
	Threads int
	// Format enables FASTQ record alignment regardless of level.
	Format Format
	// Verify checks each gzip member's trailer against the decoded stream.
	Verify bool
	// BufferSize overrides DefaultBufferSize when positive.
	BufferSize int
}

// DefaultConfig returns the default parameters: level 1, the standard
// 65280-byte block ceiling, auto thread detection.
func DefaultConfig() Config {
	return Config{
		Level:     1,
		BlockSize: bgzf.DefaultBlockSize,
	}
}

// normalized applies defaulting and the FASTQ level floor.
func (c Config) normalized() Config {
	if c.BlockSize == 0 {
		c.BlockSize = bgzf.DefaultBlockSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Format == FormatFASTQ && c.Level < 6 {
		c.Level = 6
	}
	return c
}

// Validate rejects out-of-range parameters.
func (c Config) Validate() error {
	c = c.normalized()
	if c.Level < minLevel || c.Level > maxLevel {
		return errs.New(errs.KindConfig, "level %d out of range [%d,%d]", c.Level, minLevel, maxLevel)
	}
	if c.BlockSize < minBlockSize || c.BlockSize >= bgzf.MaxBlockSize {
		return errs.New(errs.KindConfig, "block size %d out of range [%d,%d]", c.BlockSize, minBlockSize, bgzf.MaxBlockSize-1)
	}
	if c.Threads < 0 {
		return errs.New(errs.KindConfig, "thread count %d is negative", c.Threads)
	}
	return nil
}

func (c Config) dynamicHuffman() bool { return c.Level >= 4 }

func (c Config) recordAligned() bool {
	return c.Level >= 7 || c.Format == FormatFASTQ
}

func (c Config) effectiveThreads() int {
	n := c.Threads
	if n == 0 {
		n = runtime.NumCPU()
	}
	if n > maxThreads {
		n = maxThreads
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Stats summarizes one transcoding run.
type Stats struct {
	// InputBytes is the number of compressed input bytes consumed.
	InputBytes uint64 `json:"input_bytes"`
	// OutputBytes counts all written bytes including the terminator.
	OutputBytes uint64 `json:"output_bytes"`
	// BlocksWritten counts BGZF blocks, excluding the terminator.
	BlocksWritten uint64 `json:"blocks_written"`
	// RefsResolved counts back-references literalized at block boundaries.
	RefsResolved uint64 `json:"refs_resolved"`
	// RefsPreserved counts back-references kept as copies.
	RefsPreserved uint64 `json:"refs_preserved"`
	// CopiedDirectly is set when the input was already BGZF and was
	// passed through untouched.
	CopiedDirectly bool `json:"copied_directly"`
}
