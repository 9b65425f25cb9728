package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

type memoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
	outlets  map[int64]string
	failures int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		counters: map[string]int64{},
		outlets:  map[int64]string{1: "BLR", 2: "MUM"},
	}
}

func (s *memoryStore) Next(ctx context.Context, entity string, outletID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return 0, fmt.Errorf("%w: simulated upsert race", shared.ErrTransientConflict)
	}
	key := fmt.Sprintf("%s/%d", entity, outletID)
	s.counters[key]++
	return s.counters[key], nil
}

func (s *memoryStore) OutletCode(ctx context.Context, outletID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.outlets[outletID]
	if !ok {
		return "", fmt.Errorf("%w: outlet %d", shared.ErrNotFound, outletID)
	}
	return code, nil
}

func TestNextSeqConcurrentCallersGetDistinctValues(t *testing.T) {
	gen := NewGenerator(newMemoryStore(), nil)

	const callers = 50
	results := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := gen.NextSeq(context.Background(), "movement", 1)
			require.NoError(t, err)
			results <- seq
		}()
	}
	wg.Wait()
	close(results)

	var seen []int64
	for seq := range results {
		seen = append(seen, seq)
	}
	require.Len(t, seen, callers)
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, seq := range seen {
		require.Equal(t, int64(i+1), seq, "values must be dense and never reused")
	}
}

func TestNextSeqIsolatesKeys(t *testing.T) {
	gen := NewGenerator(newMemoryStore(), nil)
	ctx := context.Background()

	first, err := gen.NextSeq(ctx, "movement", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), first)

	otherEntity, err := gen.NextSeq(ctx, "audit", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), otherEntity)

	otherOutlet, err := gen.NextSeq(ctx, "movement", 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), otherOutlet)

	second, err := gen.NextSeq(ctx, "movement", 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), second)
}

func TestNextSeqRetriesTransientConflicts(t *testing.T) {
	store := newMemoryStore()
	store.failures = shared.RetryBudget - 1
	conflicts := 0
	gen := NewGenerator(store, func() { conflicts++ })

	seq, err := gen.NextSeq(context.Background(), "movement", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
	require.Equal(t, shared.RetryBudget-1, conflicts)
}

func TestNextSeqExhaustsRetryBudget(t *testing.T) {
	store := newMemoryStore()
	store.failures = shared.RetryBudget + 1
	gen := NewGenerator(store, nil)

	_, err := gen.NextSeq(context.Background(), "movement", 1)
	require.ErrorIs(t, err, shared.ErrTransientConflict)
}

func TestNextSeqRejectsEmptyEntity(t *testing.T) {
	gen := NewGenerator(newMemoryStore(), nil)
	_, err := gen.NextSeq(context.Background(), "  ", 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGenerateCodeFormats(t *testing.T) {
	store := newMemoryStore()
	gen := NewGenerator(store, nil)
	ctx := context.Background()

	code, err := gen.GenerateCode(ctx, "movement", "MOV", 1)
	require.NoError(t, err)
	require.Equal(t, "MOV-BLR-001", code)

	code, err = gen.GenerateCode(ctx, "movement", "MOV", 1)
	require.NoError(t, err)
	require.Equal(t, "MOV-BLR-002", code)

	// Global entities carry no outlet segment.
	code, err = gen.GenerateCode(ctx, "outlet", "OUT", 0)
	require.NoError(t, err)
	require.Equal(t, "OUT-001", code)
}

func TestGenerateCodeGrowsPastPadding(t *testing.T) {
	store := newMemoryStore()
	store.counters["item/1"] = 999
	gen := NewGenerator(store, nil)

	code, err := gen.GenerateCode(context.Background(), "item", "ITM", 1)
	require.NoError(t, err)
	require.Equal(t, "ITM-BLR-1000", code)
}

func TestGenerateCodeUnknownOutlet(t *testing.T) {
	gen := NewGenerator(newMemoryStore(), nil)
	_, err := gen.GenerateCode(context.Background(), "item", "ITM", 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
