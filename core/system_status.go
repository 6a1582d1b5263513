package core

import (
	"context"
	"time"
)

// SystemStatus is the aggregated view for the admin dashboard.
type SystemStatus struct {
	Chat  ChatStatus `json:"chat"`
	Queue struct {
		Pending    int64 `json:"pending"`
		Processing int64 `json:"processing"`
	} `json:"queue"`
	Workers struct {
		Busy  int `json:"busy"`
		Total int `json:"total"`
	} `json:"workers"`
	Mappings      int   `json:"mappings"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// CollectSystemStatus gathers chat, queue, worker and mapping counts.
// Partial failures leave the affected section zeroed.
func CollectSystemStatus(ctx context.Context, svc *SyncService, metrics *MetricsService, startedAt time.Time) SystemStatus {
	var st SystemStatus

	if svc != nil {
		st.Chat = svc.Status()
		if mappings, err := svc.Mappings.List(ctx); err == nil {
			st.Mappings = len(mappings)
		}
	}

	if metrics != nil {
		if qm, err := metrics.Queue(ctx); err == nil {
			st.Queue.Pending = qm.Pending
			st.Queue.Processing = qm.Processing
		}
		workers, _ := metrics.Workers(ctx)
		st.Workers.Total = len(workers)
		for _, w := range workers {
			if w.Status == "busy" {
				st.Workers.Busy++
			}
		}
	}

	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return st
}
