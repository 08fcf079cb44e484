package testutil

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultValkeyImage = "valkey/valkey:8-alpine"
	defaultValkeyPort  = "6379/tcp"
)

type ValkeyTestContainer struct {
	Container testcontainers.Container
	Host      string
	Port      nat.Port
}

func (c *ValkeyTestContainer) Address() string {
	return c.Host + ":" + c.Port.Port()
}

func SetupValkeyContainer(t *testing.T) *ValkeyTestContainer {
	t.Helper()

	ctx := t.Context()

	//nolint:exhaustruct
	req := testcontainers.ContainerRequest{
		Image:        defaultValkeyImage,
		ExposedPorts: []string{defaultValkeyPort},
		WaitingFor:   wait.ForListeningPort(defaultValkeyPort).WithStartupTimeout(startupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		ProviderType:     testcontainers.ProviderDocker,
		Logger:           &log.Logger,
		Reuse:            false,
	})

	t.Cleanup(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, defaultValkeyPort)
	require.NoError(t, err)

	return &ValkeyTestContainer{
		Container: container,
		Host:      host,
		Port:      port,
	}
}

// NewRedisClient returns a go-redis client connected to a fresh Valkey
// container.
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	container := SetupValkeyContainer(t)

	client := redis.NewClient(&redis.Options{Addr: container.Address()}) //nolint:exhaustruct
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(t.Context()).Err())

	return client
}
