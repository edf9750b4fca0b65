package provider

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ArrayMeta holds the .zarray fields the reader needs. Arrays are 2-D
// [rows, cols] in C order.
type ArrayMeta struct {
	Chunks     []int           `json:"chunks"`
	Shape      []int           `json:"shape"`
	DType      string          `json:"dtype"`
	Compressor *CompressorMeta `json:"compressor"`
	FillValue  *float64        `json:"fill_value"`
	Order      string          `json:"order"`
	ZarrFormat int             `json:"zarr_format"`
}

// CompressorMeta identifies the chunk codec. Only "zstd" is supported; a
// null compressor means raw chunks.
type CompressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

func parseArrayMeta(data []byte) (*ArrayMeta, error) {
	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse .zarray: %w", err)
	}
	if len(meta.Shape) != 2 || len(meta.Chunks) != 2 {
		return nil, fmt.Errorf("unexpected array dimensions: shape=%v chunks=%v", meta.Shape, meta.Chunks)
	}
	if meta.Chunks[0] <= 0 || meta.Chunks[1] <= 0 {
		return nil, fmt.Errorf("invalid chunk shape %v", meta.Chunks)
	}
	if meta.Order != "" && meta.Order != "C" {
		return nil, fmt.Errorf("unsupported order %q", meta.Order)
	}
	if meta.Compressor != nil && meta.Compressor.ID != "zstd" {
		return nil, fmt.Errorf("unsupported compressor %q", meta.Compressor.ID)
	}
	if _, err := parseDType(meta.DType); err != nil {
		return nil, err
	}
	return &meta, nil
}

// dtype describes a little-endian numeric element type.
type dtype struct {
	size   int
	decode func(b []byte) float64
}

// parseDType understands the Zarr v2 type strings for the pixel types the
// source products use: |u1, <u2, <i2, <f4 and <f8.
func parseDType(s string) (dtype, error) {
	switch strings.TrimLeft(s, "<|") {
	case "u1":
		return dtype{1, func(b []byte) float64 { return float64(b[0]) }}, nil
	case "u2":
		return dtype{2, func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) }}, nil
	case "i2":
		return dtype{2, func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }}, nil
	case "f4":
		return dtype{4, func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }}, nil
	case "f8":
		return dtype{8, func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }}, nil
	}
	return dtype{}, fmt.Errorf("unsupported dtype %q", s)
}

// decodeValues converts raw chunk bytes to float64, mapping the fill value
// (and NaN) to NaN.
func decodeValues(data []byte, dt dtype, fill *float64) ([]float64, error) {
	if len(data)%dt.size != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d bytes", len(data), dt.size)
	}
	out := make([]float64, len(data)/dt.size)
	for i := range out {
		v := dt.decode(data[i*dt.size : (i+1)*dt.size])
		if fill != nil && v == *fill {
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

// decoderPool provides reusable zstd decoders to avoid repeated allocations.
type decoderPool struct {
	pool sync.Pool
}

func newDecoderPool() *decoderPool {
	return &decoderPool{pool: sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				// Cannot fail with nil input and default options.
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}}
}

func (p *decoderPool) decode(data []byte) ([]byte, error) {
	decoder := p.pool.Get().(*zstd.Decoder)
	defer p.pool.Put(decoder)

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

// chunkKey is the Zarr v2 key of a chunk: "{row}.{col}".
func chunkKey(scenePath string, row, col int) string {
	return fmt.Sprintf("%s/%d.%d", scenePath, row, col)
}
