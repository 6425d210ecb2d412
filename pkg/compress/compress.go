// Package compress handles payload compression for stored report bodies.
//
// Every successful scoring run archives the rendered report next to its
// scoring record. Reports are markdown plus a JSON payload and compress
// well; zstd keeps months of history cheap while staying fast enough to
// sit on the write path.
package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a compression algorithm.
type Algorithm string

const (
	// AlgorithmZSTD is Zstandard, the default for stored reports.
	AlgorithmZSTD Algorithm = "zstd"

	// AlgorithmGzip is gzip, kept for reading stores written by older
	// builds and for tooling that cannot read zstd.
	AlgorithmGzip Algorithm = "gzip"

	// AlgorithmNone stores payloads uncompressed.
	AlgorithmNone Algorithm = "none"
)

// Level is the compression level.
type Level int

const (
	// LevelFastest prioritizes speed over ratio.
	LevelFastest Level = 1

	// LevelDefault balances speed and ratio.
	LevelDefault Level = 3

	// LevelBest maximizes compression at the cost of speed.
	LevelBest Level = 9
)

// DefaultMinSize is the payload size below which compression is not worth
// the header overhead. Callers storing smaller payloads should keep them
// as AlgorithmNone.
const DefaultMinSize = 512

// Compressor compresses and decompresses payloads with one algorithm.
// Safe for concurrent use; zstd coders are pooled.
type Compressor struct {
	algorithm Algorithm
	level     Level

	encoders sync.Pool
	decoders sync.Pool
}

// New returns a compressor for the given algorithm and level.
func New(algorithm Algorithm, level Level) *Compressor {
	c := &Compressor{
		algorithm: algorithm,
		level:     level,
	}

	if algorithm == AlgorithmZSTD {
		c.encoders = sync.Pool{
			New: func() any {
				enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(level))))
				return enc
			},
		}
		c.decoders = sync.Pool{
			New: func() any {
				dec, _ := zstd.NewReader(nil)
				return dec
			},
		}
	}

	return c
}

// Algorithm returns the configured algorithm.
func (c *Compressor) Algorithm() Algorithm {
	return c.algorithm
}

// Compress compresses data with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmZSTD:
		return c.compressZSTD(data)
	case AlgorithmGzip:
		return c.compressGzip(data)
	case AlgorithmNone:
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmZSTD:
		return c.decompressZSTD(data)
	case AlgorithmGzip:
		return c.decompressGzip(data)
	case AlgorithmNone:
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

func (c *Compressor) compressZSTD(data []byte) ([]byte, error) {
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)

	if _, err := enc.Write(data); err != nil {
		return nil, fmt.Errorf("zstd write error: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd close error: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *Compressor) decompressZSTD(data []byte) ([]byte, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("zstd reset error: %w", err)
	}

	result, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	return result, nil
}

func (c *Compressor) compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	level := gzip.DefaultCompression
	if c.level <= LevelDefault {
		level = gzip.BestSpeed
	} else if c.level >= LevelBest {
		level = gzip.BestCompression
	}

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer error: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write error: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close error: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *Compressor) decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader error: %w", err)
	}
	defer reader.Close()

	result, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress error: %w", err)
	}
	return result, nil
}

// ForAlgorithm returns a compressor able to read payloads written with the
// given stored algorithm marker. Used when a store holds records written
// under an older configuration.
func ForAlgorithm(a Algorithm) (*Compressor, error) {
	switch a {
	case AlgorithmZSTD, AlgorithmGzip, AlgorithmNone:
		return New(a, LevelDefault), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", a)
	}
}

// Ratio reports compressed size over original size. Returns 1 for empty
// input.
func Ratio(original, compressed []byte) float64 {
	if len(original) == 0 {
		return 1
	}
	return float64(len(compressed)) / float64(len(original))
}
