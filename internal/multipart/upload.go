package multipart

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the wire checksum spec.md's upload contract requires, not a security primitive.
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

// ErrMultiplePartsNotAllowed is returned when an upload-part body contains
// more than one encapsulated multipart part.
var ErrMultiplePartsNotAllowed = errors.New("multipart: upload-part body must contain exactly one part")

// ChunkResult is the record the upload-part handler produces once a single
// part's body has been fully streamed through the parser.
type ChunkResult struct {
	SHA1      string
	SizeBytes int64
}

// ChunkUpload wraps a Parser to implement the upload-part integration
// spec.md §4.2 describes: reject more than one encapsulated part, compute a
// running SHA-1 over the streamed body, write that body's bytes to sink as
// they arrive, and surface the final checksum once the body ends.
type ChunkUpload struct {
	parser    *Parser
	hasher    hash.Hash
	sink      io.Writer
	size      int64
	partCount int
	done      bool
	result    ChunkResult
}

// NewChunkUpload creates a ChunkUpload bound to the given multipart
// boundary. Every byte of the single encapsulated part's body is written to
// sink as it is parsed, in addition to being hashed; callers typically pass
// an asyncstore-backed file opened for the destination chunk.
func NewChunkUpload(boundary string, sink io.Writer) *ChunkUpload {
	h := sha1.New() //nolint:gosec // see ErrMultiplePartsNotAllowed comment above.
	c := &ChunkUpload{hasher: h, sink: sink}
	c.parser = New(boundary, Callbacks{
		OnPartDataBegin: func() error {
			c.partCount++
			if c.partCount > 1 {
				return ErrMultiplePartsNotAllowed
			}
			return nil
		},
		OnPartData: func(data []byte) error {
			n, err := c.hasher.Write(data)
			c.size += int64(n)
			if err != nil {
				return err
			}
			if c.sink != nil {
				if _, err := c.sink.Write(data); err != nil {
					return fmt.Errorf("multipart: writing chunk to sink: %w", err)
				}
			}
			return nil
		},
		OnBodyEnd: func() error {
			c.done = true
			return nil
		},
	})
	return c
}

// Write feeds one chunk of the HTTP request body into the parser. It may be
// called repeatedly as bytes arrive.
func (c *ChunkUpload) Write(data []byte) (int, error) {
	n, err := c.parser.Execute(data)
	if err != nil {
		return n, fmt.Errorf("parsing upload body: %w", err)
	}
	if n != len(data) {
		return n, fmt.Errorf("multipart: parser stalled at byte %d of %d", n, len(data))
	}
	return n, nil
}

// Done reports whether on_body_end has fired.
func (c *ChunkUpload) Done() bool {
	return c.done
}

// Result finalizes the running hash and returns the chunk record. Calling
// it before Done() returns false still finalizes whatever bytes have been
// streamed so far.
func (c *ChunkUpload) Result() ChunkResult {
	sum := c.hasher.Sum(nil)
	c.result = ChunkResult{
		SHA1:      hex.EncodeToString(sum),
		SizeBytes: c.size,
	}
	return c.result
}
