package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisQueue_FIFOReserveAck(t *testing.T) {
	mr, client := newTestRedis(t)
	q := NewRedisQueue(client)
	ctx := context.Background()

	require.NoError(t, q.EnqueueMapping(ctx, 1))
	require.NoError(t, q.EnqueueMapping(ctx, 2))

	job, err := q.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "1", job)

	members, err := mr.ZMembers(ProcessingQueueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)

	require.NoError(t, q.Ack(ctx, job))
	assert.Equal(t, int64(0), client.ZCard(ctx, ProcessingQueueKey).Val())

	job, err = q.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "2", job)
}

func TestRedisQueue_ReserveEmpty(t *testing.T) {
	_, client := newTestRedis(t)
	q := NewRedisQueue(client)

	_, err := q.Reserve(context.Background(), time.Minute)
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestRedisQueue_RequeueExpired(t *testing.T) {
	mr, client := newTestRedis(t)
	q := NewRedisQueue(client)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "5"))
	_, err := q.Reserve(ctx, time.Minute)
	require.NoError(t, err)

	jobs, err := q.RequeueExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, jobs, "reservation still within visibility")

	jobs, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, jobs)

	pending, err := mr.List(PendingQueueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, pending)
	assert.Equal(t, int64(0), client.ZCard(ctx, ProcessingQueueKey).Val())
}

func TestMetricsService_Queue(t *testing.T) {
	_, client := newTestRedis(t)
	q := NewRedisQueue(client)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "1"))
	require.NoError(t, q.Enqueue(ctx, "2"))
	_, err := q.Reserve(ctx, time.Minute)
	require.NoError(t, err)

	m, err := NewMetricsService(client).Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueMetrics{Pending: 1, Processing: 1, ExpiredCandidate: 0}, m)
}

func TestMetricsService_Workers(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	svc := NewMetricsService(client)

	workers, err := svc.Workers(ctx)
	require.NoError(t, err)
	assert.NotNil(t, workers)
	assert.Empty(t, workers)

	state := NewHeartbeatState("host:1:abc", "host", AuthAuthenticated.String())
	state.JobStarted("9")
	state.flush(ctx, client)

	workers, err = svc.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "busy", workers[0].Status)
	assert.Equal(t, "9", workers[0].CurrentJob)
	assert.Equal(t, "authenticated", workers[0].ChatState)

	hb, err := svc.WorkerByID(ctx, "host:1:abc")
	require.NoError(t, err)
	assert.Equal(t, "host", hb.Hostname)
	assert.False(t, hb.UpdatedAt.IsZero())

	_, err = svc.WorkerByID(ctx, "unknown")
	assert.Error(t, err)
}

func TestSaveHeartbeat_TTL(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, SaveHeartbeat(context.Background(), client, WorkerHeartbeat{WorkerID: "w1"}))
	assert.Equal(t, WorkerHeartbeatTTL, mr.TTL(WorkerHeartbeatKey("w1")))

	mr.FastForward(WorkerHeartbeatTTL + time.Second)
	assert.False(t, mr.Exists(WorkerHeartbeatKey("w1")))
}

func TestHeartbeatState_Counters(t *testing.T) {
	s := NewHeartbeatState("w", "h", "authenticated")
	assert.Equal(t, "starting", s.Snapshot().Status)

	s.Idle()
	assert.Equal(t, "idle", s.Snapshot().Status)

	s.JobStarted("3")
	assert.Equal(t, "busy", s.Snapshot().Status)
	s.Idle()
	assert.Equal(t, "busy", s.Snapshot().Status, "idle must not clear a running job")

	s.JobFinished(&SyncReport{
		RunID:   "run-1",
		Created: []CreatedChannel{{Name: "a"}, {Name: "b"}},
		Errors:  []SyncError{{Code: SyncErrChannelCreation}},
	}, nil)
	s.JobFinished(nil, errors.New("mapping 4 missing"))

	hb := s.Snapshot()
	assert.Equal(t, "idle", hb.Status)
	assert.Empty(t, hb.CurrentJob)
	assert.Equal(t, int64(2), hb.ProcessedTotal)
	assert.Equal(t, int64(1), hb.FailedTotal)
	assert.Equal(t, int64(2), hb.ChannelsCreated)
	assert.Equal(t, int64(1), hb.SyncErrorsTotal)
	assert.Equal(t, "run-1", hb.LastRunID)
	assert.Equal(t, "mapping 4 missing", hb.LastError)
}

func TestNewWorkerID(t *testing.T) {
	a, b := NewWorkerID(), NewWorkerID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^.+:\d+:[0-9a-f]{12}$`, a)
}
