package transcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/bgzify/internal/bgzf"
	"github.com/vertti/bgzify/internal/errs"
)

// gzipBytes compresses data with the reference gzip encoder.
func gzipBytes(t *testing.T, data []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw, err := kgzip.NewWriterLevel(&buf, level)
	require.NoError(t, err)
	_, err = gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

// decodeBGZF inflates a BGZF stream with the reference gzip decoder, which
// walks all concatenated members.
func decodeBGZF(t *testing.T, stream []byte) []byte {
	t.Helper()
	if len(stream) == len(bgzf.EOFBlock) {
		// Terminator only.
		return nil
	}
	zr, err := kgzip.NewReader(bytes.NewReader(stream))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

// rawBlock is one BGZF member split into its parts.
type rawBlock struct {
	total   int
	payload []byte
	crc     uint32
	isize   uint32
}

// splitBlocks cuts a BGZF stream into its members using the BC subfield.
func splitBlocks(t *testing.T, stream []byte) []rawBlock {
	t.Helper()
	var blocks []rawBlock
	for len(stream) > 0 {
		require.GreaterOrEqual(t, len(stream), bgzf.HeaderSize)
		require.Equal(t, byte('B'), stream[12])
		require.Equal(t, byte('C'), stream[13])
		total := int(binary.LittleEndian.Uint16(stream[16:18])) + 1
		require.LessOrEqual(t, total, len(stream))
		blk := stream[:total]
		blocks = append(blocks, rawBlock{
			total:   total,
			payload: blk[bgzf.HeaderSize : total-bgzf.FooterSize],
			crc:     binary.LittleEndian.Uint32(blk[total-8:]),
			isize:   binary.LittleEndian.Uint32(blk[total-4:]),
		})
		stream = stream[total:]
	}
	return blocks
}

// checkInvariants asserts the universal BGZF output properties: size
// bounds, terminator, and per-block payload integrity.
func checkInvariants(t *testing.T, stream []byte) []rawBlock {
	t.Helper()
	blocks := splitBlocks(t, stream)
	require.NotEmpty(t, blocks)

	last := blocks[len(blocks)-1]
	assert.Equal(t, uint32(0), last.isize, "stream must end with the terminator")
	assert.Equal(t, len(bgzf.EOFBlock), last.total)

	for i, blk := range blocks {
		assert.LessOrEqual(t, blk.total, bgzf.MaxBlockSize, "block %d", i)
		assert.LessOrEqual(t, blk.isize, uint32(bgzf.MaxUncompressed), "block %d", i)

		fr := flate.NewReader(bytes.NewReader(blk.payload))
		out, err := io.ReadAll(fr)
		require.NoError(t, err, "block %d", i)
		require.NoError(t, fr.Close())
		assert.Equal(t, int(blk.isize), len(out), "block %d", i)
		assert.Equal(t, blk.crc, crc32.ChecksumIEEE(out), "block %d", i)
	}
	return blocks
}

func transcodeBytes(t *testing.T, input []byte, cfg Config) ([]byte, *Stats) {
	t.Helper()
	var out bytes.Buffer
	stats, err := Transcode(bytes.NewReader(input), &out, cfg)
	require.NoError(t, err)
	return out.Bytes(), stats
}

func TestTranscode_SingleByte(t *testing.T) {
	t.Parallel()

	cfg := Config{Level: 1, Threads: 1}
	out, stats := transcodeBytes(t, gzipBytes(t, []byte{0x41}, kgzip.BestSpeed), cfg)

	assert.Equal(t, []byte{0x41}, decodeBGZF(t, out))
	assert.Equal(t, uint64(1), stats.BlocksWritten)
	checkInvariants(t, out)
}

func TestTranscode_EmptyMember(t *testing.T) {
	t.Parallel()

	cfg := Config{Level: 1, Threads: 1}
	out, stats := transcodeBytes(t, gzipBytes(t, nil, kgzip.DefaultCompression), cfg)

	// Output is just the terminator block.
	assert.Equal(t, bgzf.EOFBlock[:], out)
	assert.Equal(t, uint64(0), stats.BlocksWritten)
}

func TestTranscode_ThousandAs(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{'A'}, 1000)
	cfg := Config{Level: 1, BlockSize: 65280, Threads: 1}
	out, stats := transcodeBytes(t, gzipBytes(t, data, kgzip.BestSpeed), cfg)

	assert.Equal(t, data, decodeBGZF(t, out))
	assert.Equal(t, uint64(1), stats.BlocksWritten)

	blocks := checkInvariants(t, out)
	require.Len(t, blocks, 2) // data block + terminator
	assert.Equal(t, uint32(1000), blocks[0].isize)
	assert.Equal(t, uint32(0xd15b55d3), blocks[0].crc)
}

func TestTranscode_RandomFourBlocks(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 200000)
	_, err := rng.Read(data)
	require.NoError(t, err)

	cfg := Config{Level: 1, BlockSize: 65280, Threads: 1}
	out, stats := transcodeBytes(t, gzipBytes(t, data, kgzip.DefaultCompression), cfg)

	assert.Equal(t, data, decodeBGZF(t, out))
	assert.Equal(t, uint64(4), stats.BlocksWritten) // ceil(200000/65280)

	blocks := checkInvariants(t, out)
	assert.Len(t, blocks, 5)
}

func TestTranscode_AllLevels(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 5000)
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	for level := 1; level <= 9; level++ {
		cfg := Config{Level: level, Threads: 1}
		out, _ := transcodeBytes(t, input, cfg)
		assert.Equal(t, data, decodeBGZF(t, out), "level %d", level)
		checkInvariants(t, out)
	}
}

func TestTranscode_ConcatenatedMembers(t *testing.T) {
	t.Parallel()

	first := bytes.Repeat([]byte{'x'}, 100)
	second := bytes.Repeat([]byte{'y'}, 100)
	var input []byte
	input = append(input, gzipBytes(t, first, kgzip.DefaultCompression)...)
	input = append(input, gzipBytes(t, second, kgzip.DefaultCompression)...)

	cfg := Config{Level: 1, Threads: 1}
	out, _ := transcodeBytes(t, input, cfg)

	var want []byte
	want = append(want, first...)
	want = append(want, second...)
	assert.Equal(t, want, decodeBGZF(t, out))
	checkInvariants(t, out)
}

func TestTranscode_ExactBlockSize(t *testing.T) {
	t.Parallel()

	data := make([]byte, 65280)
	rng := rand.New(rand.NewSource(1))
	for i := range data {
		data[i] = byte('a' + rng.Intn(26))
	}

	cfg := Config{Level: 1, BlockSize: 65280, Threads: 1}
	out, stats := transcodeBytes(t, gzipBytes(t, data, kgzip.DefaultCompression), cfg)

	assert.Equal(t, data, decodeBGZF(t, out))
	assert.Equal(t, uint64(1), stats.BlocksWritten)
}

func TestTranscode_IncompressibleFallsBackToStored(t *testing.T) {
	t.Parallel()

	// Random bytes do not compress: fixed-table coding would overflow
	// the 64 KiB member budget, so blocks land as stored payloads.
	rng := rand.New(rand.NewSource(99))
	data := make([]byte, 150000)
	_, err := rng.Read(data)
	require.NoError(t, err)

	for _, level := range []int{1, 6} {
		cfg := Config{Level: level, Threads: 1}
		out, _ := transcodeBytes(t, gzipBytes(t, data, kgzip.BestCompression), cfg)
		assert.Equal(t, data, decodeBGZF(t, out), "level %d", level)
		checkInvariants(t, out)
	}
}

func TestTranscode_CrossBoundaryReferences(t *testing.T) {
	t.Parallel()

	// Highly repetitive data makes the input lean on long-range matches,
	// which must be literalized whenever they reach into a sealed block.
	data := bytes.Repeat([]byte("0123456789abcdef"), 20000) // 320 KB
	cfg := Config{Level: 4, BlockSize: 4096, Threads: 1}
	out, stats := transcodeBytes(t, gzipBytes(t, data, kgzip.BestCompression), cfg)

	assert.Equal(t, data, decodeBGZF(t, out))
	assert.Greater(t, stats.RefsResolved, uint64(0))
	checkInvariants(t, out)
}

func TestTranscode_SmallBlockSizes(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("genomic data with some repetition, repetition, repetition\n"), 2000)
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	for _, blockSize := range []int{1024, 4096, 32768} {
		cfg := Config{Level: 1, BlockSize: blockSize, Threads: 1}
		out, _ := transcodeBytes(t, input, cfg)
		assert.Equal(t, data, decodeBGZF(t, out), "block size %d", blockSize)

		blocks := checkInvariants(t, out)
		for i, blk := range blocks[:len(blocks)-1] {
			assert.LessOrEqual(t, int(blk.isize), blockSize, "block %d at size %d", i, blockSize)
		}
	}
}

func TestTranscode_StoredInputBlocks(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(17))
	data := make([]byte, 80000)
	_, err := rng.Read(data)
	require.NoError(t, err)

	// NoCompression produces stored DEFLATE blocks in the input.
	cfg := Config{Level: 1, Threads: 1}
	out, _ := transcodeBytes(t, gzipBytes(t, data, kgzip.NoCompression), cfg)
	assert.Equal(t, data, decodeBGZF(t, out))
	checkInvariants(t, out)
}

func TestTranscode_Parallel(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("parallel pipelines must not reorder bytes. "), 30000)
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	cfg := Config{Level: 4, Threads: 4}
	out, stats := transcodeBytes(t, input, cfg)
	assert.Equal(t, data, decodeBGZF(t, out))
	assert.Greater(t, stats.BlocksWritten, uint64(1))
	checkInvariants(t, out)
}

func TestTranscode_Determinism(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("determinism across thread counts. "), 40000)
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	for _, level := range []int{1, 6, 9} {
		single, _ := transcodeBytes(t, input, Config{Level: level, Threads: 1})
		again, _ := transcodeBytes(t, input, Config{Level: level, Threads: 1})
		parallel4, _ := transcodeBytes(t, input, Config{Level: level, Threads: 4})
		parallel8, _ := transcodeBytes(t, input, Config{Level: level, Threads: 8})

		assert.Equal(t, single, again, "level %d rerun", level)
		assert.Equal(t, single, parallel4, "level %d t=4", level)
		assert.Equal(t, single, parallel8, "level %d t=8", level)
	}
}

// fastqData builds n synthetic FASTQ records.
func fastqData(n int) []byte {
	var buf bytes.Buffer
	rng := rand.New(rand.NewSource(23))
	bases := []byte("ACGT")
	for i := 0; i < n; i++ {
		seq := make([]byte, 100)
		qual := make([]byte, 100)
		for j := range seq {
			seq[j] = bases[rng.Intn(4)]
			qual[j] = byte('!' + rng.Intn(40))
		}
		fmt.Fprintf(&buf, "@read_%d\n%s\n+\n%s\n", i, seq, qual)
	}
	return buf.Bytes()
}

func TestTranscode_FastqRecordAlignment(t *testing.T) {
	t.Parallel()

	data := fastqData(8000) // ~1.6 MB, enough for many blocks
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	cfg := Config{Level: 9, Format: FormatFASTQ, Threads: 1}
	out, _ := transcodeBytes(t, input, cfg)
	assert.Equal(t, data, decodeBGZF(t, out))

	blocks := checkInvariants(t, out)
	dataBlocks := blocks[: len(blocks)-1 : len(blocks)-1]
	require.Greater(t, len(dataBlocks), 4)

	aligned := 0
	newlines := uint64(0)
	for i, blk := range dataBlocks {
		fr := flate.NewReader(bytes.NewReader(blk.payload))
		decoded, err := io.ReadAll(fr)
		require.NoError(t, err)
		require.NoError(t, fr.Close())

		newlines += uint64(bytes.Count(decoded, []byte{'\n'}))
		if i == len(dataBlocks)-1 {
			// The last block ends wherever the input does.
			continue
		}
		endsWithNewline := len(decoded) > 0 && decoded[len(decoded)-1] == '\n'
		if endsWithNewline && newlines%4 == 0 {
			aligned++
		}
	}
	frac := float64(aligned) / float64(len(dataBlocks)-1)
	assert.GreaterOrEqual(t, frac, 0.9, "record-aligned fraction")
}

func TestTranscode_VerifyMode(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("verified content "), 1000)
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	cfg := Config{Level: 1, Threads: 1, Verify: true}
	out, _ := transcodeBytes(t, input, cfg)
	assert.Equal(t, data, decodeBGZF(t, out))
}

func TestTranscode_VerifyCatchesBadCRC(t *testing.T) {
	t.Parallel()

	data := []byte("some content to checksum")
	input := gzipBytes(t, data, kgzip.DefaultCompression)
	input[len(input)-8] ^= 0xff // corrupt trailer CRC

	var out bytes.Buffer
	_, err := Transcode(bytes.NewReader(input), &out, Config{Level: 1, Threads: 1, Verify: true})
	require.Error(t, err)
	assert.Equal(t, errs.KindCRCMismatch, errs.KindOf(err))
}

func TestTranscode_VerifyCatchesBadSize(t *testing.T) {
	t.Parallel()

	data := []byte("some content to measure")
	input := gzipBytes(t, data, kgzip.DefaultCompression)
	input[len(input)-4] ^= 0xff // corrupt trailer ISIZE

	var out bytes.Buffer
	_, err := Transcode(bytes.NewReader(input), &out, Config{Level: 1, Threads: 1, Verify: true})
	require.Error(t, err)
	assert.Equal(t, errs.KindSizeMismatch, errs.KindOf(err))
}

func TestTranscode_MalformedInput(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, err := Transcode(bytes.NewReader([]byte("not gzip at all")), &out, Config{Level: 1, Threads: 1})
	require.Error(t, err)
	assert.Equal(t, errs.KindMalformedGzip, errs.KindOf(err))
}

func TestTranscode_ReservedBlockType(t *testing.T) {
	t.Parallel()

	input := gzipBytes(t, []byte("x"), kgzip.BestSpeed)
	input[10] |= 0x06 // force BTYPE=11 in the first block header

	var out bytes.Buffer
	_, err := Transcode(bytes.NewReader(input), &out, Config{Level: 1, Threads: 1})
	require.Error(t, err)
	assert.Equal(t, errs.KindMalformedDeflate, errs.KindOf(err))
}

func TestTranscode_TruncatedInput(t *testing.T) {
	t.Parallel()

	input := gzipBytes(t, bytes.Repeat([]byte("abc"), 1000), kgzip.DefaultCompression)
	for _, cut := range []int{11, len(input) / 2} {
		var out bytes.Buffer
		_, err := Transcode(bytes.NewReader(input[:cut]), &out, Config{Level: 1, Threads: 1})
		require.Error(t, err, "cut at %d", cut)
		assert.Equal(t, errs.KindTruncated, errs.KindOf(err), "cut at %d", cut)
	}
}

func TestTranscode_InvalidConfig(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cases := []Config{
		{Level: 0, Threads: 1},
		{Level: 10, Threads: 1},
		{Level: 1, BlockSize: 65536, Threads: 1},
		{Level: 1, BlockSize: 100, Threads: 1},
		{Level: 1, Threads: -1},
	}
	for i, cfg := range cases {
		_, err := Transcode(bytes.NewReader(nil), &out, cfg)
		require.Error(t, err, "case %d", i)
		assert.Equal(t, errs.KindConfig, errs.KindOf(err), "case %d", i)
	}
}

func TestTranscode_GZIIndex(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(8))
	data := make([]byte, 200000)
	_, err := rng.Read(data)
	require.NoError(t, err)
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	idx := bgzf.NewIndexBuilder()
	var out bytes.Buffer
	stats, err := TranscodeIndexed(bytes.NewReader(input), &out, Config{Level: 1, Threads: 1}, idx)
	require.NoError(t, err)

	// One entry per non-initial block; the terminator is not indexed.
	require.Equal(t, int(stats.BlocksWritten-1), idx.Len())

	// Entry i holds the offsets where block i+1 starts.
	blocks := splitBlocks(t, out.Bytes())
	comp, uncomp := uint64(0), uint64(0)
	for i, e := range idx.Entries() {
		comp += uint64(blocks[i].total)
		uncomp += uint64(blocks[i].isize)
		assert.Equal(t, comp, e.CompressedOffset, "entry %d", i)
		assert.Equal(t, uncomp, e.UncompressedOffset, "entry %d", i)
	}
}

func TestTranscode_SingleByteGZIEmpty(t *testing.T) {
	t.Parallel()

	idx := bgzf.NewIndexBuilder()
	var out bytes.Buffer
	_, err := TranscodeIndexed(bytes.NewReader(gzipBytes(t, []byte{0x41}, kgzip.BestSpeed)), &out, Config{Level: 1, Threads: 1}, idx)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestTranscode_FastqForcesLevelSix(t *testing.T) {
	t.Parallel()

	cfg := Config{Level: 1, Format: FormatFASTQ}
	assert.Equal(t, 6, cfg.normalized().Level)
	assert.True(t, cfg.normalized().dynamicHuffman())
	assert.True(t, cfg.recordAligned())
}

func TestConfig_ThreadSelection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Config{Threads: 1}.effectiveThreads())
	assert.Equal(t, 4, Config{Threads: 4}.effectiveThreads())
	assert.Equal(t, maxThreads, Config{Threads: 100}.effectiveThreads())
	assert.GreaterOrEqual(t, Config{Threads: 0}.effectiveThreads(), 1)
}

func TestTranscode_LargeParallelRoundTrip(t *testing.T) {
	t.Parallel()

	data := fastqData(20000) // ~4 MB
	input := gzipBytes(t, data, kgzip.DefaultCompression)

	cfg := Config{Level: 6, Threads: 0} // auto
	out, stats := transcodeBytes(t, input, cfg)
	assert.Equal(t, data, decodeBGZF(t, out))
	assert.Greater(t, stats.BlocksWritten, uint64(10))
	assert.Equal(t, stats.OutputBytes, uint64(len(out)))
	checkInvariants(t, out)
}
