package core

import (
	"context"
	"os"
	"sync"
	"time"
)

// HeartbeatState は単一 worker プロセスの同期カウンタを保持する。
type HeartbeatState struct {
	mu       sync.Mutex
	hb       WorkerHeartbeat
	interval time.Duration
}

func NewHeartbeatState(workerID, hostname, chatState string) *HeartbeatState {
	now := time.Now()
	return &HeartbeatState{
		hb: WorkerHeartbeat{
			WorkerID:  workerID,
			Hostname:  hostname,
			PID:       os.Getpid(),
			Status:    "starting",
			ChatState: chatState,
			StartedAt: now,
			UpdatedAt: now,
		},
		interval: 5 * time.Second,
	}
}

// Start は直ちに 1 回送信し、以降 ctx 終了まで interval ごとに TTL を更新する。
func (s *HeartbeatState) Start(ctx context.Context, client RedisClientRaw) {
	s.flush(ctx, client)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx, client)
		}
	}
}

// Idle marks the worker as waiting for jobs.
func (s *HeartbeatState) Idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hb.CurrentJob == "" {
		s.hb.Status = "idle"
	}
}

// JobStarted は同期中のジョブを記録し、状態を busy にする。
func (s *HeartbeatState) JobStarted(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.Status = "busy"
	s.hb.CurrentJob = job
}

// JobFinished は同期結果からカウンタを更新する。
func (s *HeartbeatState) JobFinished(report *SyncReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.CurrentJob = ""
	s.hb.Status = "idle"
	s.hb.ProcessedTotal++
	if report != nil {
		s.hb.LastRunID = report.RunID
		s.hb.ChannelsCreated += int64(len(report.Created))
		s.hb.SyncErrorsTotal += int64(len(report.Errors))
	}
	if err != nil {
		s.hb.FailedTotal++
		s.hb.LastError = err.Error()
	}
}

// Snapshot returns a copy of the current heartbeat.
func (s *HeartbeatState) Snapshot() WorkerHeartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.UptimeSeconds = int64(time.Since(s.hb.StartedAt).Seconds())
	return s.hb
}

func (s *HeartbeatState) flush(ctx context.Context, client RedisClientRaw) {
	hb := s.Snapshot()
	hb.UpdateRuntimeStats()
	_ = SaveHeartbeat(ctx, client, hb)
}
