package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_Basic(t *testing.T) {
	t.Parallel()

	var w window
	w.push('A')
	w.push('B')
	w.push('C')

	assert.Equal(t, []byte{'C'}, w.readBack(1, 1, nil))
	assert.Equal(t, []byte{'B'}, w.readBack(2, 1, nil))
	assert.Equal(t, []byte{'A'}, w.readBack(3, 1, nil))
	assert.Equal(t, []byte("ABC"), w.readBack(3, 3, nil))
}

func TestWindow_RLE(t *testing.T) {
	t.Parallel()

	var w window
	w.push('A')
	assert.Equal(t, []byte("AAAAA"), w.readBack(1, 5, nil))

	w.push('B')
	assert.Equal(t, []byte("ABABAB"), w.readBack(2, 6, nil))
}

func TestWindow_Wrap(t *testing.T) {
	t.Parallel()

	var w window
	for i := 0; i < 40000; i++ {
		w.push(byte(i))
	}
	assert.Equal(t, windowSize, w.available())
	assert.Equal(t, uint64(40000), w.total)
	assert.Equal(t, []byte{byte(39999)}, w.readBack(1, 1, nil))
	assert.Equal(t, []byte{byte(40000 - windowSize)}, w.readBack(windowSize, 1, nil))
}

func TestWindow_AppendsToDst(t *testing.T) {
	t.Parallel()

	var w window
	w.pushAll([]byte("XY"))
	dst := []byte("prefix")
	dst = w.readBack(2, 2, dst)
	assert.Equal(t, []byte("prefixXY"), dst)
}

func TestWindow_Reset(t *testing.T) {
	t.Parallel()

	var w window
	w.pushAll([]byte("data"))
	w.reset()
	assert.Equal(t, 0, w.available())
}
