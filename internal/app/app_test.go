package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/catalog-crawler/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.BaseURL = "https://shop.test"
	cfg.Crawler.Categories = []string{"/c/tools"}
	return cfg
}

func TestBuild_InMemoryServesAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Archive.Driver = config.DriverLocal
	cfg.Archive.BaseDir = t.TempDir()
	cfg.Schedule.FullCrawl = "@daily"

	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t), "test")
	require.NoError(t, err)
	require.NotNil(t, a.Crawls())
	require.NotNil(t, a.Products())
	require.NotNil(t, a.scheduler)
	require.Nil(t, a.pool)
	require.Nil(t, a.publisher)

	for _, path := range []string{"/healthz", "/readyz", "/v1/jobs", "/v1/jobs/running"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	require.NoError(t, a.Close(context.Background()))
}

func TestSetupArchive_Drivers(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		config.DriverNone:   "<nil>",
		config.DriverMemory: "*memory.BlobStore",
		config.DriverLocal:  "*local.BlobStore",
	}
	for driver, want := range cases {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			cfg.Archive.Driver = driver
			cfg.Archive.BaseDir = t.TempDir()
			store, err := setupArchive(context.Background(), &App{cfg: cfg, logger: zaptest.NewLogger(t)})
			require.NoError(t, err)
			require.Equal(t, want, fmt.Sprintf("%T", store))
		})
	}
}

func TestBuild_AuthProtectsAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"

	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "bad cron spec",
			mutate: func(c *config.Config) { c.Schedule.FullCrawl = "every tuesday" },
			want:   "schedule full crawl",
		},
		{
			name:   "unresolvable category",
			mutate: func(c *config.Config) { c.Crawler.Categories = []string{"javascript:void(0)"} },
			want:   "resolve categories",
		},
		{
			name:   "negative parallelism",
			mutate: func(c *config.Config) { c.Headless.MaxParallel = -1 },
			want:   "headless browser init failed",
		},
		{
			name:   "negative host qps",
			mutate: func(c *config.Config) { c.Headless.DomainQPS = -1 },
			want:   "rate limiter init failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(&cfg)
			_, err := Build(context.Background(), cfg, zaptest.NewLogger(t), "test")
			require.ErrorContains(t, err, tt.want)
		})
	}
}
