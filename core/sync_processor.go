package core

import (
	"context"
	"fmt"
	"strconv"
)

// MappingSyncer runs one synchronization for a course mapping id.
type MappingSyncer interface {
	SyncMapping(ctx context.Context, id int64) (*SyncReport, error)
}

// SyncProcessor turns queued job ids into synchronization runs.
type SyncProcessor struct {
	syncer MappingSyncer
}

func NewSyncProcessor(syncer MappingSyncer) *SyncProcessor {
	return &SyncProcessor{syncer: syncer}
}

// Process parses the mapping id in job and synchronizes it. The report is
// returned even when some channel operations failed; the error is reserved
// for jobs that could not run at all.
func (p *SyncProcessor) Process(ctx context.Context, job string) (*SyncReport, error) {
	id, err := strconv.ParseInt(job, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sync job %q: %w", job, err)
	}
	return p.syncer.SyncMapping(ctx, id)
}
