package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mailcampaign/internal/models"
	"mailcampaign/internal/repository/repotest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type dispatcherFunc func(ctx context.Context, campaignID int) (*DispatchSummary, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, campaignID int) (*DispatchSummary, error) {
	return f(ctx, campaignID)
}

func TestAsyncScheduler_RunsInBackground(t *testing.T) {
	store := repotest.NewStore()
	campaign, _ := store.SeedCampaign("Background", models.CampaignStatusPending, 3)

	release := make(chan struct{})
	d := NewDispatcher(store, DelayFunc(noDelay), FailureDeciderFunc(never), nil,
		WithSleep(func(time.Duration) { <-release }))
	scheduler := NewAsyncScheduler(d)

	runID, err := scheduler.Schedule(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	// Schedule returned while the run is blocked on its first delay
	close(release)
	scheduler.Wait()

	c, _ := store.Campaigns().GetWithStats(context.Background(), campaign.ID)
	assert.Equal(t, models.CampaignStatusCompleted, c.Status)
	assert.Equal(t, 3, c.Stats.Sent)
}

func TestAsyncScheduler_DetachesFromRequestContext(t *testing.T) {
	var got context.Context
	var mu sync.Mutex
	scheduler := NewAsyncScheduler(dispatcherFunc(func(ctx context.Context, _ int) (*DispatchSummary, error) {
		mu.Lock()
		got = ctx
		mu.Unlock()
		return &DispatchSummary{}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	runID, err := scheduler.Schedule(ctx, 1)
	require.NoError(t, err)
	cancel()
	scheduler.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, got.Err())
	assert.Equal(t, runID, RunIDFromContext(got))
}

func TestAsyncScheduler_IndependentCampaignsRunConcurrently(t *testing.T) {
	started := make(chan int, 2)
	release := make(chan struct{})
	scheduler := NewAsyncScheduler(dispatcherFunc(func(_ context.Context, id int) (*DispatchSummary, error) {
		started <- id
		<-release
		return &DispatchSummary{CampaignID: id}, nil
	}))

	_, err := scheduler.Schedule(context.Background(), 1)
	require.NoError(t, err)
	_, err = scheduler.Schedule(context.Background(), 2)
	require.NoError(t, err)

	// both runs are in flight at the same time
	ids := map[int]bool{<-started: true, <-started: true}
	assert.Equal(t, map[int]bool{1: true, 2: true}, ids)

	close(release)
	scheduler.Wait()
}

func TestAsyncScheduler_RecoversEnginePanic(t *testing.T) {
	scheduler := NewAsyncScheduler(dispatcherFunc(func(context.Context, int) (*DispatchSummary, error) {
		panic("engine bug")
	}))

	_, err := scheduler.Schedule(context.Background(), 1)
	require.NoError(t, err)
	scheduler.Wait()
}

func TestAsyncScheduler_Close(t *testing.T) {
	scheduler := NewAsyncScheduler(dispatcherFunc(func(context.Context, int) (*DispatchSummary, error) {
		return &DispatchSummary{}, nil
	}))

	scheduler.Close()

	_, err := scheduler.Schedule(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}
