package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"recipebox/backend/internal/config"
)

type IntegrationSuite struct {
	T       *testing.T
	DB      *sql.DB
	Redis   *redis.Client
	NSQ     *nsq.Producer
	NSQAddr string
	NSQHTTP string

	// Containers
	pgContainer    *postgres.PostgresContainer
	redisContainer testcontainers.Container
	nsqContainer   testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// Setup starts every backing container. Use SetupPostgres or SetupRedis when a
// test only needs one of them.
func (s *IntegrationSuite) Setup() {
	s.SetupPostgres()
	s.SetupRedis()
	s.SetupNSQ()
}

func (s *IntegrationSuite) SetupPostgres() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("recipebox_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", basepath)

	m, err := migrate.New(migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) SetupRedis() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.redisContainer = redisC

	host, err := redisC.Host(ctx)
	require.NoError(s.T, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(s.T, err)

	s.Redis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(s.T, s.Redis.Ping(ctx).Err())
}

func (s *IntegrationSuite) SetupNSQ() {
	ctx := context.Background()

	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	nsqPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)

	nsqHTTPPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(s.T, err)

	s.NSQAddr = fmt.Sprintf("%s:%s", nsqHost, nsqPort.Port())
	s.NSQHTTP = fmt.Sprintf("%s:%s", nsqHost, nsqHTTPPort.Port())
	s.NSQ, err = nsq.NewProducer(s.NSQAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig points a config at the running containers. Provider settings
// are filled with test values so the config validates.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()
	cfg := &config.Config{
		InferenceProvider:          config.ProviderOpenAI,
		OpenAIAPIKey:               "sk-test",
		OpenAIBaseURL:              "http://localhost:1",
		OpenAIModel:                "gpt-test",
		OpenAIWebhookSecret:        "whsec_dGVzdC1zZWNyZXQ=",
		MaxRetryCount:              1,
		CorrelationTTL:             time.Hour,
		RecipeTTL:                  time.Hour,
		DispatchMaxAttempts:        3,
		DispatchConcurrency:        2,
		PushGatewayURL:             "http://localhost:1",
		QuotaPerMinute:             60,
		QuotaBurst:                 10,
		ServerPort:                 8081,
		LogFormat:                  "text",
		LogLevel:                   "debug",
		PruneInterval:              time.Minute,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}

	if s.pgContainer != nil {
		host, err := s.pgContainer.Host(ctx)
		require.NoError(s.T, err)
		port, err := s.pgContainer.MappedPort(ctx, "5432")
		require.NoError(s.T, err)
		cfg.DBHost = host
		cfg.DBPort = port.Int()
		cfg.DBUser = "test"
		cfg.DBPass = "test"
		cfg.DBName = "recipebox_test"
	}
	if s.Redis != nil {
		cfg.RedisURL = "redis://" + s.Redis.Options().Addr + "/0"
	}
	if s.NSQAddr != "" {
		cfg.NSQDHost = s.NSQAddr
		cfg.NSQDHTTP = s.NSQHTTP
		cfg.NSQLookupd = ""
	}

	_, b, _, _ := runtime.Caller(0)
	cfg.MigrationPath = fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
	return cfg
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.redisContainer != nil {
		s.redisContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
