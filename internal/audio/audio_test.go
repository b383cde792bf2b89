package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oggPage(granule uint64) []byte {
	page := make([]byte, 28)
	copy(page, "OggS")
	binary.LittleEndian.PutUint64(page[6:], granule)
	return page
}

func TestOggDuration(t *testing.T) {
	t.Run("reads last page granule", func(t *testing.T) {
		data := append(oggPage(0), oggPage(96000)...)
		d, err := OggDuration(data)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, d, 0.001)
	})

	t.Run("skips trailing page without granule", func(t *testing.T) {
		data := append(oggPage(144000), oggPage(0)...)
		d, err := OggDuration(data)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, d, 0.001)
	})

	t.Run("rejects non-ogg data", func(t *testing.T) {
		_, err := OggDuration([]byte("RIFFxxxxWAVE and then some padding bytes"))
		assert.Error(t, err)
	})

	t.Run("rejects truncated stream", func(t *testing.T) {
		_, err := OggDuration([]byte("OggS"))
		assert.Error(t, err)
	})

	t.Run("no page with granule", func(t *testing.T) {
		_, err := OggDuration(oggPage(0))
		assert.Error(t, err)
	})
}
