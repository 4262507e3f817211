package store

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Event payloads can carry large aggregated command output. Payloads at
// or above this size are zstd-compressed before being stored and
// transparently decompressed on read; smaller payloads are stored as
// plain JSON to avoid compression overhead on the common case.
const compressThresholdBytes = 2048

const compressedPrefix = "\x01zstd\x00"

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			panic(fmt.Sprintf("init zstd encoder: %v", err))
		}
		encoder = enc
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("init zstd decoder: %v", err))
		}
		decoder = dec
	})
	return decoder
}

// maybeCompress returns payload unchanged if it is below the compression
// threshold, else a compressed form tagged with compressedPrefix.
func maybeCompress(payload string) string {
	if len(payload) < compressThresholdBytes {
		return payload
	}
	compressed := getEncoder().EncodeAll([]byte(payload), nil)
	return compressedPrefix + string(compressed)
}

// maybeDecompress reverses maybeCompress, passing through payloads that
// were never compressed.
func maybeDecompress(payload string) (string, error) {
	if !bytes.HasPrefix([]byte(payload), []byte(compressedPrefix)) {
		return payload, nil
	}
	raw, err := getDecoder().DecodeAll([]byte(payload[len(compressedPrefix):]), nil)
	if err != nil {
		return "", fmt.Errorf("decompress payload: %w", err)
	}
	return string(raw), nil
}
