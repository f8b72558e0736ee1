package emitter

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec encodes a stream body before upload.
type Codec struct {
	Name      string
	Extension string // appended to the file name
	Encoding  string // Content-Encoding, empty for none

	zstdEncoder *zstd.Encoder
}

// NewCodec returns the codec for name: "", "none", "gzip" or "zstd".
func NewCodec(name string) (*Codec, error) {
	switch name {
	case "", "none":
		return &Codec{Name: "none"}, nil
	case "gzip":
		return &Codec{Name: "gzip", Extension: ".gz", Encoding: "gzip"}, nil
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return &Codec{Name: "zstd", Extension: ".zst", Encoding: "zstd", zstdEncoder: enc}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// Encode compresses data. It is safe for concurrent use.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	switch c.Name {
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return buf.Bytes(), nil
	case "zstd":
		return c.zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	default:
		return data, nil
	}
}

// Close releases encoder resources.
func (c *Codec) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
}
