// Package audio probes voice memo files for their duration.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// opusSampleRate is fixed by the Opus spec: granule positions in Ogg Opus
// always count 48 kHz samples regardless of the encoding rate.
const opusSampleRate = 48000

// OggDuration returns the duration in seconds of an Ogg Opus stream by
// reading the granule position of the last page. Both Telegram and WhatsApp
// deliver voice memos as Ogg Opus.
func OggDuration(data []byte) (float64, error) {
	if len(data) < 28 || !bytes.HasPrefix(data, []byte("OggS")) {
		return 0, fmt.Errorf("not an ogg stream")
	}
	idx := bytes.LastIndex(data, []byte("OggS"))
	for idx >= 0 {
		// Page header: "OggS" + version + type, granule position at offset 6.
		if idx+14 <= len(data) {
			granule := int64(binary.LittleEndian.Uint64(data[idx+6 : idx+14]))
			if granule > 0 {
				return float64(granule) / opusSampleRate, nil
			}
		}
		idx = bytes.LastIndex(data[:idx], []byte("OggS"))
	}
	return 0, fmt.Errorf("no ogg page with a granule position")
}
