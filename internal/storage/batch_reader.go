package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchReader fetches many small objects in parallel with bounded
// concurrency.
type BatchReader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult contains the outcome of a batch read.
type BatchResult struct {
	Data   map[string][]byte
	Errors map[string]error
}

// NewBatchReader creates a new batch reader.
// concurrency: maximum number of parallel reads (values below 1 mean 1)
func NewBatchReader(storage ObjectStorage, concurrency int) *BatchReader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchReader{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Read fetches every object in paths. Per-object failures are reported in
// Errors and do not stop the batch; a cancelled context does.
func (b *BatchReader) Read(ctx context.Context, paths []string) (*BatchResult, error) {
	result := &BatchResult{
		Data:   make(map[string][]byte, len(paths)),
		Errors: make(map[string]error),
	}
	if len(paths) == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, fmt.Errorf("batch read interrupted: %w", err)
		}

		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.storage.Get(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[path] = err
				return
			}
			result.Data[path] = data
		}(p)
	}

	wg.Wait()

	return result, nil
}
