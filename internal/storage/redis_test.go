package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx))

	pipe := client.Pipeline()
	pipe.HIncrBy(ctx, "h", "basic:allowed", 2)
	fields := pipe.HGetAll(ctx, "h")
	_, err = pipe.Exec(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"basic:allowed": "2"}, fields.Val())
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(addr, "", 0)
	assert.ErrorContains(t, err, "failed to connect to redis")
}
