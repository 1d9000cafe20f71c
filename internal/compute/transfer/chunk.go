package transfer

import (
	"hash/crc32"

	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

const (
	// DefaultChunkSize 单个分片的最大字节数
	DefaultChunkSize = 16 * 1024
	// DefaultThreshold is the size at which payloads start being chunked.
	DefaultThreshold = 16 * 1024
)

// Checksum of a chunk payload.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Split cuts data into ordered chunks of at most size bytes. Empty data
// yields a single empty chunk so the receiver still sees a complete tensor.
func Split(tensorID string, data []byte, size int) []protocol.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	total := (len(data) + size - 1) / size
	if total == 0 {
		total = 1
	}

	chunks := make([]protocol.Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		payload := append([]byte(nil), data[start:end]...)
		chunks = append(chunks, protocol.Chunk{
			TensorID: tensorID,
			Index:    i,
			Total:    total,
			Payload:  payload,
			Checksum: Checksum(payload),
		})
	}
	return chunks
}

// Verify reports whether the chunk payload matches its checksum.
func Verify(c protocol.Chunk) bool {
	return Checksum(c.Payload) == c.Checksum
}
