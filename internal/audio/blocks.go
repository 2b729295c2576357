package audio

import (
	"errors"
	"fmt"
	"io"
)

// BlockSize is the number of bytes read from the normalized file per audio chunk
const BlockSize = 1024

// BlockReader reads a stream in sequential fixed-size blocks.
// Every block except possibly the last is exactly the block size; the final
// partial block is returned as-is and a zero-length read ends the stream.
type BlockReader struct {
	r      io.Reader
	buf    []byte
	blocks int
	bytes  int64
	done   bool
}

// NewBlockReader creates a block reader over r. A non-positive size selects BlockSize.
func NewBlockReader(r io.Reader, size int) *BlockReader {
	if size <= 0 {
		size = BlockSize
	}
	return &BlockReader{
		r:   r,
		buf: make([]byte, size),
	}
}

// Next returns the next non-empty block or io.EOF once the stream is exhausted.
// The returned slice is only valid until the next call.
func (b *BlockReader) Next() ([]byte, error) {
	if b.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(b.r, b.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Short final block
		b.done = true
	case errors.Is(err, io.EOF):
		b.done = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("failed to read audio block %d: %w", b.blocks, err)
	}

	b.blocks++
	b.bytes += int64(n)
	return b.buf[:n], nil
}

// Blocks returns the number of blocks returned so far
func (b *BlockReader) Blocks() int {
	return b.blocks
}

// BytesRead returns the total number of bytes returned so far
func (b *BlockReader) BytesRead() int64 {
	return b.bytes
}

// BlockCount returns how many blocks a stream of size bytes is split into
func BlockCount(size int64, blockSize int) int64 {
	if size <= 0 {
		return 0
	}
	if blockSize <= 0 {
		blockSize = BlockSize
	}
	return (size + int64(blockSize) - 1) / int64(blockSize)
}
