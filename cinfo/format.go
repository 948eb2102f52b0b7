package cinfo

import "encoding/binary"

// Wire layout constants for the .cinfo side-car file. All fixed fields
// are little-endian.
const (
	formatVersion byte = 1

	// headerLen is the size in bytes of the fixed-width header prefix:
	// version(1) + buffer_size(8) + file_size(8) + prefetch_enabled(1).
	headerLen = 1 + 8 + 8 + 1

	astatLen = 8 + 8 + 8 + 8 // detach_time, bytes_disk, bytes_ram, bytes_missed
)

// encodeHeader writes the fixed-width header into buf[0:headerLen]. buf must
// be at least headerLen bytes.
func encodeHeader(buf []byte, bufferSize, fileSize int64, prefetchEnabled bool) {
	buf[0] = formatVersion
	binary.LittleEndian.PutUint64(buf[1:9], uint64(bufferSize))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(fileSize))
	if prefetchEnabled {
		buf[17] = 1
	} else {
		buf[17] = 0
	}
}

func decodeHeader(buf []byte) (version byte, bufferSize, fileSize int64, prefetchEnabled bool) {
	version = buf[0]
	bufferSize = int64(binary.LittleEndian.Uint64(buf[1:9]))
	fileSize = int64(binary.LittleEndian.Uint64(buf[9:17]))
	prefetchEnabled = buf[17] != 0
	return
}

// AStat is one appended detach-time I/O statistics record.
type AStat struct {
	DetachTime  int64
	BytesDisk   int64
	BytesRAM    int64
	BytesMissed int64
}

func encodeAStat(buf []byte, s AStat) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.DetachTime))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.BytesDisk))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(s.BytesRAM))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(s.BytesMissed))
}

func decodeAStat(buf []byte) AStat {
	return AStat{
		DetachTime:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		BytesDisk:   int64(binary.LittleEndian.Uint64(buf[8:16])),
		BytesRAM:    int64(binary.LittleEndian.Uint64(buf[16:24])),
		BytesMissed: int64(binary.LittleEndian.Uint64(buf[24:32])),
	}
}

// bitsTotal computes ⌈fileSize/bufferSize⌉, the number of blocks.
func bitsTotal(fileSize, bufferSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	return int((fileSize + bufferSize - 1) / bufferSize)
}
