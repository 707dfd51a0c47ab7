// Package zstd wraps and unwraps Zstandard frames around extracted or packed
// files (.zst). Encoders are pooled per level.
package zstd

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Ext is the file extension of wrapped files.
const Ext = "zst"

// DefaultLevel matches the zstd command line default.
const DefaultLevel = 3

var frameMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

	encoderPools = make(map[zstd.EncoderLevel]*sync.Pool)
	poolMu       sync.RWMutex
)

func encoderPool(level zstd.EncoderLevel) *sync.Pool {
	poolMu.RLock()
	pool, ok := encoderPools[level]
	poolMu.RUnlock()
	if ok {
		return pool
	}

	poolMu.Lock()
	defer poolMu.Unlock()
	if pool, ok = encoderPools[level]; ok {
		return pool
	}
	pool = &sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(level),
				zstd.WithEncoderConcurrency(1),
			)
			return enc
		},
	}
	encoderPools[level] = pool
	return pool
}

// IsCompressed reports whether data starts with a Zstandard frame.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, frameMagic)
}

// Compress wraps src in a Zstandard frame. Level uses the zstd command line
// scale (1-22) and is mapped onto the encoder's speed presets.
func Compress(src []byte, level int) []byte {
	pool := encoderPool(zstd.EncoderLevelFromZstd(level))
	enc := pool.Get().(*zstd.Encoder)
	defer pool.Put(enc)

	return enc.EncodeAll(src, make([]byte, 0, len(src)/2+64))
}

// Decompress unwraps every frame in src.
func Decompress(src []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
