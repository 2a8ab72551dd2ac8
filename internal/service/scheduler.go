package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailcampaign/internal/reporting"
)

// ErrSchedulerClosed is returned by Schedule after Close
var ErrSchedulerClosed = errors.New("scheduler is closed")

// JobScheduler hands a campaign to the dispatch engine asynchronously.
// Schedule returns as soon as the job is accepted, with the run id.
type JobScheduler interface {
	Schedule(ctx context.Context, campaignID int) (string, error)
}

// AsyncScheduler runs each accepted dispatch in its own goroutine,
// detached from the caller's context.
type AsyncScheduler struct {
	dispatcher CampaignDispatcher

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncScheduler creates a new in-process scheduler
func NewAsyncScheduler(dispatcher CampaignDispatcher) *AsyncScheduler {
	return &AsyncScheduler{dispatcher: dispatcher}
}

// Schedule starts a dispatch run in the background
func (s *AsyncScheduler) Schedule(ctx context.Context, campaignID int) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSchedulerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	runID := uuid.NewString()
	go func() {
		defer s.wg.Done()
		RunDispatch(WithRunID(context.Background(), runID), s.dispatcher, campaignID)
	}()

	return runID, nil
}

// Wait blocks until every started run has finished
func (s *AsyncScheduler) Wait() {
	s.wg.Wait()
}

// Close stops accepting new runs and waits for the running ones
func (s *AsyncScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

// RunDispatch runs one dispatch and logs its outcome. A panic escaping
// the engine is logged and reported instead of crashing the process.
func RunDispatch(ctx context.Context, dispatcher CampaignDispatcher, campaignID int) (summary *DispatchSummary, err error) {
	log := logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"run_id":      RunIDFromContext(ctx),
	})

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("dispatch panicked: %v", p)
			log.WithError(err).Error("Campaign dispatch aborted")
			reporting.CaptureError(err, map[string]string{"run_id": RunIDFromContext(ctx)})
		}
	}()

	summary, err = dispatcher.Dispatch(ctx, campaignID)
	if err != nil {
		log.WithError(err).Error("Campaign dispatch failed")
		return summary, err
	}
	return summary, nil
}
