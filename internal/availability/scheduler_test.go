package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type fakePresence struct {
	mu    sync.Mutex
	count int
	err   error
}

func (p *fakePresence) CountOnlineStaff(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, p.err
}

func (p *fakePresence) set(count int, err error) {
	p.mu.Lock()
	p.count, p.err = count, err
	p.mu.Unlock()
}

func mustWindow(t *testing.T, opens, closes, tz string) Window {
	t.Helper()
	w, err := ParseWindow(opens, closes, tz)
	require.NoError(t, err)
	return w
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name    string
		opens   string
		closes  string
		tz      string
		wantErr bool
	}{
		{"valid", "09:00", "21:00", "Asia/Yangon", false},
		{"empty zone is UTC", "00:00", "23:59", "", false},
		{"close before open", "21:00", "09:00", "UTC", true},
		{"equal bounds", "09:00", "09:00", "UTC", true},
		{"bad hour", "25:00", "26:00", "UTC", true},
		{"bad format", "9am", "21:00", "UTC", true},
		{"unknown zone", "09:00", "21:00", "Mars/Olympus", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWindow(tt.opens, tt.closes, tt.tz)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWindow_Contains(t *testing.T) {
	w := mustWindow(t, "09:00", "21:00", "Asia/Yangon") // UTC+06:30

	// 02:29 UTC is 08:59 in Yangon
	assert.False(t, w.Contains(time.Date(2024, 3, 1, 2, 29, 0, 0, time.UTC)))
	// 02:30 UTC is 09:00 in Yangon
	assert.True(t, w.Contains(time.Date(2024, 3, 1, 2, 30, 0, 0, time.UTC)))
	// 14:29 UTC is 20:59 in Yangon
	assert.True(t, w.Contains(time.Date(2024, 3, 1, 14, 29, 0, 0, time.UTC)))
	// 14:30 UTC is 21:00 in Yangon, close is exclusive
	assert.False(t, w.Contains(time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)))
	assert.Equal(t, "09:00-21:00 Asia/Yangon", w.String())
}

func TestScheduler_PresenceWins(t *testing.T) {
	w := mustWindow(t, "09:00", "10:00", "UTC")
	presence := &fakePresence{count: 2}
	s := NewScheduler(w, presence, 0, quietLogger())
	ctx := context.Background()
	night := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)

	status := s.Status(ctx, night)
	assert.True(t, status.Online)
	assert.Equal(t, 2, status.StaffCount)
	assert.Equal(t, SourcePresence, status.Source)

	// a working feed with nobody online means offline, even inside the window
	presence.set(0, nil)
	assert.False(t, s.IsOnline(ctx, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
}

func TestScheduler_FallsBackToWindow(t *testing.T) {
	w := mustWindow(t, "09:00", "17:00", "UTC")
	presence := &fakePresence{err: errors.New("database is locked")}
	s := NewScheduler(w, presence, 0, quietLogger())
	ctx := context.Background()

	status := s.Status(ctx, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	assert.True(t, status.Online)
	assert.Equal(t, SourceSchedule, status.Source)
	assert.False(t, s.IsOnline(ctx, time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)))

	noSource := NewScheduler(w, nil, 0, quietLogger())
	assert.True(t, noSource.IsOnline(ctx, time.Date(2024, 3, 1, 16, 59, 0, 0, time.UTC)))
}

func TestScheduler_CheckEmitsOnlyOnFlip(t *testing.T) {
	w := mustWindow(t, "09:00", "17:00", "UTC")
	presence := &fakePresence{count: 0}
	s := NewScheduler(w, presence, 0, quietLogger())
	ctx := context.Background()

	var changes []StatusChange
	s.OnChange(func(_ context.Context, c StatusChange) {
		changes = append(changes, c)
	})

	s.Check(ctx) // baseline
	s.Check(ctx)
	assert.Empty(t, changes)

	presence.set(1, nil)
	s.Check(ctx)
	s.Check(ctx)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Previous.Online)
	assert.True(t, changes[0].Current.Online)

	presence.set(0, nil)
	s.Check(ctx)
	require.Len(t, changes, 2)
	assert.False(t, changes[1].Current.Online)
	assert.False(t, s.Current(ctx).Online)
}

// gatedPresence answers offline for the baseline, holds the second call
// until release is closed and answers offline, then reports staff online
type gatedPresence struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPresence) CountOnlineStaff(context.Context) (int, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	switch n {
	case 1:
		return 0, nil
	case 2:
		close(p.entered)
		<-p.release
		return 0, nil
	default:
		return 3, nil
	}
}

func TestScheduler_StaleCheckCannotOverwriteNewer(t *testing.T) {
	presence := &gatedPresence{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(mustWindow(t, "09:00", "10:00", "UTC"), presence, 0, quietLogger())
	ctx := context.Background()

	var mu sync.Mutex
	var changes []StatusChange
	s.OnChange(func(_ context.Context, c StatusChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})
	s.Check(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Check(ctx)
	}()
	<-presence.entered
	go func() {
		defer wg.Done()
		s.Check(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	close(presence.release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Current.Online)
	assert.True(t, s.Current(ctx).Online)
}

func TestScheduler_SetWindow(t *testing.T) {
	s := NewScheduler(mustWindow(t, "09:00", "10:00", "UTC"), nil, 0, quietLogger())
	noon := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	assert.False(t, s.IsOnline(ctx, noon))
	s.SetWindow(mustWindow(t, "11:00", "13:00", "UTC"))
	assert.True(t, s.IsOnline(ctx, noon))
}

func TestScheduler_StartStop(t *testing.T) {
	presence := &fakePresence{count: 0}
	s := NewScheduler(mustWindow(t, "09:00", "10:00", "UTC"), presence, 5*time.Millisecond, quietLogger())

	changed := make(chan StatusChange, 1)
	s.OnChange(func(_ context.Context, c StatusChange) {
		select {
		case changed <- c:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	// wait for the baseline before flipping presence
	assert.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.last != nil
	}, time.Second, time.Millisecond)
	presence.set(3, nil)

	select {
	case c := <-changed:
		assert.True(t, c.Current.Online)
		assert.Equal(t, 3, c.Current.StaffCount)
	case <-time.After(time.Second):
		t.Fatal("no status change observed")
	}

	s.Stop()
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
