package fragstore

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// encodeShards splits data into k data shards and m parity shards.
// Shards are at least one byte so empty objects still produce k+m fragments.
func encodeShards(data []byte, k, m int) ([][]byte, error) {
	enc, err := reedsolomon.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("create RS encoder: %w", err)
	}

	shardSize := (len(data) + k - 1) / k
	if shardSize == 0 {
		shardSize = 1
	}

	shards := make([][]byte, k+m)
	for i := range shards {
		shards[i] = make([]byte, shardSize)
		if i >= k {
			continue
		}
		start := i * shardSize
		if start < len(data) {
			copy(shards[i], data[start:min(start+shardSize, len(data))])
		}
	}

	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode shards: %w", err)
	}
	return shards, nil
}

// decodeShards reconstructs the original data from k+m shards, nil where
// missing, and trims the padding back to size.
func decodeShards(shards [][]byte, k, m int, size int64) ([]byte, error) {
	if len(shards) != k+m {
		return nil, fmt.Errorf("expected %d shards, got %d", k+m, len(shards))
	}

	available := 0
	var shardSize int64
	for _, s := range shards {
		if s != nil {
			available++
			shardSize = max(shardSize, int64(len(s)))
		}
	}
	if available < k {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFragments, k, available)
	}
	if size > shardSize*int64(k) {
		return nil, fmt.Errorf("size %d exceeds reconstructible data %d", size, shardSize*int64(k))
	}

	enc, err := reedsolomon.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("create RS decoder: %w", err)
	}
	if err := enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("reconstruct shards: %w", err)
	}

	data := make([]byte, 0, shardSize*int64(k))
	for i := 0; i < k; i++ {
		data = append(data, shards[i]...)
	}
	return data[:size], nil
}
