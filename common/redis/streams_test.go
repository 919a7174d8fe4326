package redis

import (
	"context"
	"testing"

	"github.com/AlexeyKoz/fall-detection-system/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToStream_StringifiesValues(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := Connect(ctx, &config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer Close(client)

	id, err := PublishToStream(ctx, client, "s", 0, map[string]interface{}{
		"n":    42,
		"f":    1.5,
		"ok":   true,
		"list": []int{1, 2},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := ReadRange(ctx, client, "s", "-", "+")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "42", msgs[0].Values["n"])
	assert.Equal(t, "1.5", msgs[0].Values["f"])
	assert.Equal(t, "true", msgs[0].Values["ok"])
	assert.Equal(t, "[1,2]", msgs[0].Values["list"])
}

func TestPublishJSONToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	_, err := PublishJSONToStream(ctx, client, "events", 100, map[string]bool{"falling": true})
	require.NoError(t, err)

	msgs, err := ReadRange(ctx, client, "events", "-", "+")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"falling":true}`, msgs[0].Values["data"])
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}

func TestReadRange_MissingStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	msgs, err := ReadRange(context.Background(), client, "nope", "-", "+")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), &config.RedisConfig{Addr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
