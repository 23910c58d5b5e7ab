package fraud

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "+15551234567"

func TestCorrelator_RecordThenResolve(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore())

	require.NoError(t, c.Record(ctx, testPhone, "txn_1", time.Now()))

	// Every recorded entry is immediately resolvable: the writer and the
	// reader agree on the status label.
	got, err := c.FindResolvable(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "txn_1", got)
}

func TestCorrelator_NoEntry(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore())

	_, err := c.FindResolvable(ctx, testPhone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorrelator_MostRecentWins(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore())

	base := time.Now()
	require.NoError(t, c.Record(ctx, testPhone, "txn_old", base.Add(-2*time.Minute)))
	require.NoError(t, c.Record(ctx, testPhone, "txn_new", base))
	require.NoError(t, c.Record(ctx, testPhone, "txn_mid", base.Add(-time.Minute)))

	got, err := c.FindResolvable(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "txn_new", got)
}

func TestCorrelator_LookbackBound(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore()).WithLookback(2)

	base := time.Now()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("txn_%d", i)
		require.NoError(t, c.Record(ctx, testPhone, id, base.Add(time.Duration(i)*time.Second)))
	}

	// Claim the two most recent; the older three are outside the window.
	for _, id := range []string{"txn_4", "txn_3"} {
		got, err := c.FindResolvable(ctx, testPhone)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		require.NoError(t, c.Claim(ctx, testPhone, got))
	}

	got, err := c.FindResolvable(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "txn_2", got)
}

func TestCorrelator_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore())

	require.NoError(t, c.Record(ctx, testPhone, "txn_1", time.Now()))

	require.NoError(t, c.Claim(ctx, testPhone, "txn_1"))
	assert.ErrorIs(t, c.Claim(ctx, testPhone, "txn_1"), ErrAlertClaimed)
}

func TestCorrelator_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore())

	require.NoError(t, c.Record(ctx, testPhone, "txn_1", time.Now()))

	const claimants = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Claim(ctx, testPhone, "txn_1") == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one claimant should win")
}

func TestCorrelator_RemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore())

	require.NoError(t, c.Record(ctx, testPhone, "txn_1", time.Now()))

	require.NoError(t, c.Remove(ctx, testPhone, "txn_1"))
	require.NoError(t, c.Remove(ctx, testPhone, "txn_1"))

	_, err := c.FindResolvable(ctx, testPhone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorrelator_PhonesAreIndependent(t *testing.T) {
	ctx := context.Background()
	c := NewCorrelator(NewMemoryAlertStore())

	require.NoError(t, c.Record(ctx, "+15550000001", "txn_a", time.Now()))
	require.NoError(t, c.Record(ctx, "+15550000002", "txn_b", time.Now()))

	got, err := c.FindResolvable(ctx, "+15550000001")
	require.NoError(t, err)
	assert.Equal(t, "txn_a", got)

	got, err = c.FindResolvable(ctx, "+15550000002")
	require.NoError(t, err)
	assert.Equal(t, "txn_b", got)
}
