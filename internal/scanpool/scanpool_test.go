package scanpool

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultsKeepInputOrder(t *testing.T) {
	hashes := make([][]byte, 100)
	for i := range hashes {
		hashes[i] = []byte{byte(i)}
	}

	results := Run(8, hashes, func(h []byte) (string, error) {
		return fmt.Sprintf("r%d", h[0]), nil
	})

	require.Len(t, results, 100)
	for i, result := range results {
		assert.Equal(t, i, result.Index)
		assert.Equal(t, fmt.Sprintf("r%d", i), result.JSON)
	}
}

func TestEveryHashScannedOnce(t *testing.T) {
	hashes := make([][]byte, 500)
	for i := range hashes {
		hashes[i] = []byte{byte(i), byte(i >> 8)}
	}

	var calls int64
	Run(0, hashes, func(h []byte) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "", nil
	})
	assert.Equal(t, int64(500), calls)
}

func TestErrorsSurfacePerResult(t *testing.T) {
	hashes := [][]byte{{0}, {1}, {2}}
	results := Run(2, hashes, func(h []byte) (string, error) {
		if h[0] == 1 {
			return "", fmt.Errorf("boom")
		}
		return "ok", nil
	})
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestEmptyInput(t *testing.T) {
	results := Run(4, nil, func(h []byte) (string, error) {
		t.Fatal("must not be called")
		return "", nil
	})
	assert.Empty(t, results)
}
