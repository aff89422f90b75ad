package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) RunFullCrawl(ctx context.Context) (crawler.Job, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.Job), args.Error(1)
}

func TestTriggerLogsOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     crawler.Job
		err     error
		message string
	}{
		{"completed", crawler.Job{ID: "j1", ProductsProcessed: 3}, nil, "scheduled full crawl completed"},
		{"skipped", crawler.Job{}, &crawler.AlreadyRunningError{JobID: "j0"}, "scheduled full crawl skipped"},
		{"failed", crawler.Job{ID: "j2"}, errors.New("store down"), "scheduled full crawl failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zapcore.DebugLevel)
			runner := &mockCrawler{}
			runner.On("RunFullCrawl", mock.Anything).Return(tt.job, tt.err).Once()

			s := New(runner, zap.New(core))
			s.trigger()

			runner.AssertExpectations(t)
			assert.Equal(t, 1, logs.FilterMessage(tt.message).Len())
		})
	}
}

func TestScheduleFullCrawl(t *testing.T) {
	t.Parallel()

	s := New(&mockCrawler{}, nil)
	assert.True(t, s.Next().IsZero())

	require.Error(t, s.ScheduleFullCrawl("every tuesday"))
	require.NoError(t, s.ScheduleFullCrawl("0 3 * * *"))
	require.NoError(t, s.ScheduleFullCrawl("@hourly"))
	assert.Len(t, s.cron.Entries(), 1)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 10*time.Millisecond)
	assert.True(t, s.Next().After(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
