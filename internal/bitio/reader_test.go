package bitio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBits_LSBFirst(t *testing.T) {
	t.Parallel()

	// 0xD3 = 11010011, read LSB first.
	r := NewReader(bytes.NewReader([]byte{0xD3, 0xAA}))

	v, err := r.ReadBits(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b011), v)

	v, err = r.ReadBits(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b11010), v)

	v, err = r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAA), v)
}

func TestReadBit(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0b10110001}))
	want := []bool{true, false, false, false, true, true, false, true}
	for i, expected := range want {
		b, err := r.ReadBit()
		require.NoError(t, err)
		assert.Equal(t, expected, b, "bit %d", i)
	}
}

func TestReadBits_CrossByteBoundary(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0xFF, 0x00}))
	v, err := r.ReadBits(12)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0FF), v)
}

func TestAlignToByte(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0xFF, 0xAB}))
	_, err := r.ReadBits(3)
	require.NoError(t, err)
	r.AlignToByte()

	v, err := r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAB), v)
}

func TestReadUint16(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0x34, 0x12}))
	v, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
}

func TestReadUint32(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0x78, 0x56, 0x34, 0x12}))
	v, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), v)
}

func TestPeekAndConsume(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0xD3}))
	v, avail, err := r.PeekBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint(8), avail)
	assert.Equal(t, uint32(0xD3), v)

	// Peeking does not consume.
	v2, _, err := r.PeekBits(8)
	require.NoError(t, err)
	assert.Equal(t, v, v2)

	r.Consume(4)
	v, err = r.ReadBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xD), v)
}

func TestPeekBits_ShortStream(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0xFF}))
	v, avail, err := r.PeekBits(15)
	assert.Error(t, err)
	assert.Equal(t, uint(8), avail)
	assert.Equal(t, uint32(0xFF), v)
}

func TestReadFull_DrainsAccumulator(t *testing.T) {
	t.Parallel()

	data := []byte{0x01, 'h', 'e', 'l', 'l', 'o'}
	r := NewReader(bytes.NewReader(data))
	_, err := r.ReadBits(8) // forces a bulk refill past the first byte
	require.NoError(t, err)

	buf := make([]byte, 5)
	require.NoError(t, r.ReadFull(buf))
	assert.Equal(t, []byte("hello"), buf)
}

func TestBitPosition(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0xAA, 0xBB, 0xCC}))
	assert.Equal(t, int64(0), r.BitPosition())

	_, err := r.ReadBits(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.BitPosition())

	r.AlignToByte()
	assert.Equal(t, int64(8), r.BitPosition())

	_, err = r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, int64(24), r.BitPosition())
}

func TestEOF(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader(nil))
	_, err := r.ReadBits(8)
	assert.Equal(t, io.EOF, err)

	r = NewReader(bytes.NewReader([]byte{0xFF}))
	_, err = r.ReadBits(8)
	require.NoError(t, err)
	_, err = r.ReadBits(8)
	assert.Equal(t, io.EOF, err)
}

func TestTruncatedMidRead(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte{0xFF}))
	_, err := r.ReadBits(4)
	require.NoError(t, err)
	_, err = r.ReadBits(8)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

// oneByteReader returns a single byte per Read call to exercise the
// byte-by-byte refill path.
type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestShortReads(t *testing.T) {
	t.Parallel()

	r := NewReader(&oneByteReader{data: []byte{0x34, 0x12, 0xFF}})
	v, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)

	b, err := r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFF), b)
}
