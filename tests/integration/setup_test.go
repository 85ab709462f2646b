//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"prodtest/config"
	"prodtest/internal/app"
	"prodtest/internal/logentry"
	"prodtest/internal/storage"
	"prodtest/internal/testrunner"
)

// dbTypes are the backends every scenario runs against.
var dbTypes = []string{storage.TypePostgreSQL, storage.TypeMongoDB}

// TestAppFixture holds an application wired to one container database.
type TestAppFixture struct {
	// App is the application under test
	App *app.App

	// ServerURL is the base URL of the running HTTP server
	ServerURL string

	// PgPool is set for PostgreSQL fixtures (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDb is set for MongoDB fixtures (for DB assertions)
	MongoDb *mongo.Database

	// DBType is the configured database type
	DBType string
}

// SetupTestApp creates an application on the given backend with a live
// HTTP server. Resources are released by t.Cleanup.
func SetupTestApp(t *testing.T, dbType string) *TestAppFixture {
	t.Helper()

	cfg := &config.Config{
		Storage: storage.Config{Type: dbType},
		Metrics: config.MetricsConfig{Enabled: true, Endpoint: "/metrics"},
	}
	fixture := &TestAppFixture{DBType: dbType}
	switch dbType {
	case storage.TypePostgreSQL:
		cfg.Storage.PostgreSQL = storage.PostgreSQLConfig{URL: pgURL, MaxConns: 4}
		fixture.PgPool = pgPool
	case storage.TypeMongoDB:
		cfg.Storage.MongoDB = storage.MongoDBConfig{URL: mongoURL, Database: testDatabase}
		fixture.MongoDb = mongoDatabase
	default:
		t.Fatalf("unsupported db type %q", dbType)
	}

	a, err := app.New(testCtx, app.Config{
		AppConfig: &config.LoadResult{Config: cfg},
		Logger:    testLogger(),
	})
	require.NoError(t, err, "failed to create app")

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Shutdown(context.Background())
	})

	fixture.App = a
	fixture.ServerURL = srv.URL
	return fixture
}

// NewRunner returns a runner that publishes into private settings so
// scenarios do not leak the prefix into the process environment.
func (f *TestAppFixture) NewRunner(t *testing.T, cfg testrunner.RunConfig) *testrunner.Runner {
	t.Helper()
	r, err := testrunner.New(f.App.Backend(), f.App.Registry(), cfg,
		testrunner.WithSettings(testrunner.NewSettings()),
		testrunner.WithLogger(testLogger()))
	require.NoError(t, err)
	return r
}

// Count fetches GET /log/count/ from the live server.
func (f *TestAppFixture) Count(t *testing.T) int64 {
	t.Helper()
	resp, err := http.Get(f.ServerURL + "/log/count/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	n, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	require.NoError(t, err)
	return n
}

// InsertEntries bulk-inserts n log entries through the app's store.
func (f *TestAppFixture) InsertEntries(t *testing.T, ctx context.Context, n int) {
	t.Helper()
	entries := make([]*logentry.LogEntry, 0, n)
	for i := range n {
		e, err := logentry.New(map[string]any{"seq": i, "source": "integration"})
		require.NoError(t, err)
		entries = append(entries, e)
	}
	require.NoError(t, f.App.LogEntries().BulkCreate(ctx, entries))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
