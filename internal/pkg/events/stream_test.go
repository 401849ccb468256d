package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamPublisher(t *testing.T) (*StreamPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStreamPublisher(rdb, "", slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestStreamPublisher_PublishAndRecent(t *testing.T) {
	pub, _ := newStreamPublisher(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	require.NoError(t, pub.Publish(ctx, Event{Type: UserRegistered, Key: "u1", Data: map[string]string{"email": "abel@x.com"}}))
	require.NoError(t, pub.Publish(ctx, Event{Type: FeedbackSubmitted, Key: "f1", Data: map[string]int{"rating": 2}}))

	n, err := pub.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	recs, err := pub.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, FeedbackSubmitted, recs[0].Type)
	assert.Equal(t, "f1", recs[0].Key)
	assert.JSONEq(t, `{"rating":2}`, string(recs[0].Data))
	assert.True(t, recs[1].OccurredAt.Equal(fixed))
	assert.Equal(t, UserRegistered, recs[1].Type)

	recs, err = pub.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStreamPublisher_SkipsMalformed(t *testing.T) {
	pub, _ := newStreamPublisher(t)
	ctx := context.Background()

	require.NoError(t, pub.rdb.XAdd(ctx, &redis.XAddArgs{Stream: DefaultStream, Values: map[string]interface{}{"data": "{not json"}}).Err())
	require.NoError(t, pub.Publish(ctx, Event{Type: UserActivated, Key: "u1"}))

	recs, err := pub.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, UserActivated, recs[0].Type)
}

func TestStreamPublisher_RedisDown(t *testing.T) {
	pub, mr := newStreamPublisher(t)
	mr.Close()
	assert.Error(t, pub.Publish(context.Background(), Event{Type: UserActivated}))
}
