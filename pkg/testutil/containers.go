package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	RabbitMQImage = "rabbitmq:3.13-alpine"
	RedisImage    = "redis:7-alpine"
	PostgresImage = "postgres:17-alpine"
)

func terminateOnCleanup(t *testing.T, container testcontainers.Container) {
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})
}

// StartRabbitMQ runs a broker and returns its host and AMQP port.
func StartRabbitMQ(t *testing.T) (string, int) {
	t.Helper()
	RequireDocker(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RabbitMQImage,
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start RabbitMQ container: %v", err)
	}
	terminateOnCleanup(t, container)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5672/tcp")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return host, port.Int()
}

// StartRedis runs Redis and returns a redis:// URL.
func StartRedis(t *testing.T) string {
	t.Helper()
	RequireDocker(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, RedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	terminateOnCleanup(t, container)

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	return url
}

// StartPostgres runs PostgreSQL with database db and returns a DSN with sslmode=disable.
func StartPostgres(t *testing.T, db string) string {
	t.Helper()
	RequireDocker(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase(db),
		postgres.WithUsername("rabbitqueue"),
		postgres.WithPassword("rabbitqueue"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	terminateOnCleanup(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	return dsn
}

// AMQPURL formats a guest URL for a broker started by StartRabbitMQ.
func AMQPURL(host string, port int) string {
	return fmt.Sprintf("amqp://guest:guest@%s:%d/", host, port)
}
