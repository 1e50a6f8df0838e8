package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestScheduler_RunCleanup(t *testing.T) {
	records := &mockCleaner{}
	files := &mockFileCleaner{}
	scheduler := NewScheduler(records, files, 30, 24, quietLogger())

	ctx := context.Background()
	records.On("CleanupOldRecords", ctx, 30).Return(nil).Once()
	files.On("CleanupOldFiles", 30*24*time.Hour).Return(2, nil).Once()

	scheduler.RunCleanup(ctx)

	records.AssertExpectations(t)
	files.AssertExpectations(t)
}

func TestScheduler_RunCleanupError(t *testing.T) {
	records := &mockCleaner{}
	files := &mockFileCleaner{}
	scheduler := NewScheduler(records, files, 30, 24, quietLogger())

	ctx := context.Background()
	records.On("CleanupOldRecords", ctx, 30).Return(assert.AnError).Once()
	files.On("CleanupOldFiles", mock.Anything).Return(0, assert.AnError).Once()

	scheduler.RunCleanup(ctx)

	records.AssertExpectations(t)
	files.AssertExpectations(t)
}

func TestScheduler_Defaults(t *testing.T) {
	records := &mockCleaner{}
	scheduler := NewScheduler(records, nil, 0, 0, quietLogger())
	assert.Equal(t, 30, scheduler.retentionDays)
	assert.Equal(t, 24, scheduler.intervalHours)

	records.On("CleanupOldRecords", mock.Anything, 30).Return(nil).Once()
	scheduler.RunCleanup(context.Background())
	records.AssertExpectations(t)
}

func TestScheduler_StartStop(t *testing.T) {
	records := &mockCleaner{}
	scheduler := NewScheduler(records, nil, 30, 24, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	records.On("CleanupOldRecords", mock.Anything, 30).Return(nil).Maybe()

	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Scheduler did not stop within timeout")
	}
}

func TestScheduler_StopSignal(t *testing.T) {
	records := &mockCleaner{}
	scheduler := NewScheduler(records, nil, 30, 24, quietLogger())
	records.On("CleanupOldRecords", mock.Anything, 30).Return(nil).Maybe()

	done := make(chan struct{})
	go func() {
		scheduler.Start(context.Background())
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()
	scheduler.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Scheduler did not stop within timeout")
	}
}
