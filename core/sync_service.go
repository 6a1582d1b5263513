package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService bundles the chat client, LMS repositories and group filter
// shared by the API, the worker and the CLI.
type SyncService struct {
	Chat     *ChatClient
	Courses  CourseRepository
	Mappings CourseMappingRepository
	Filter   *GroupFilter
}

// NewSyncService loads chat settings from the configured source, builds the
// chat client and wires the Postgres repositories. Login failures leave the
// client unauthenticated; settings read failures are returned.
func NewSyncService(ctx context.Context, cfg Config, db *pgxpool.Pool) (*SyncService, error) {
	if db == nil {
		return nil, errors.New("sync service requires a database connection")
	}
	provider, err := OpenSettingsProvider(cfg, db)
	if err != nil {
		return nil, err
	}
	settings, err := LoadChatSettings(ctx, provider)
	if err != nil {
		return nil, err
	}
	client, err := NewChatClient(ctx, settings, ChatClientOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	return &SyncService{
		Chat:     client,
		Courses:  NewPgCourseRepository(db),
		Mappings: NewPgCourseMappingRepository(db),
		Filter:   NewGroupFilter(settings.GroupRegex),
	}, nil
}

// Synchronizer returns a fresh synchronizer; each run owns its report.
func (s *SyncService) Synchronizer() *ChannelSynchronizer {
	return NewChannelSynchronizer(s.Chat, s.Courses, s.Filter)
}

// SyncMapping synchronizes the course behind mapping id.
func (s *SyncService) SyncMapping(ctx context.Context, id int64) (*SyncReport, error) {
	mapping, err := s.Mappings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Synchronizer().CreateChannelsForCourse(ctx, *mapping)
}

// SyncCourse synchronizes a course by id. The course must be mapped.
func (s *SyncService) SyncCourse(ctx context.Context, courseID int64) (*SyncReport, error) {
	mapping, err := s.Mappings.GetByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("course %d is not mapped: %w", courseID, err)
	}
	return s.Synchronizer().CreateChannelsForCourse(ctx, *mapping)
}

// ChannelForGroup loads group id and checks its derived channel.
func (s *SyncService) ChannelForGroup(ctx context.Context, groupID int64) (*Group, string, bool, error) {
	group, err := s.Courses.GetGroup(ctx, groupID)
	if err != nil {
		return nil, "", false, err
	}
	id, ok, err := s.Synchronizer().HasChannelForGroup(ctx, *group)
	if err != nil {
		return nil, "", false, err
	}
	return group, id, ok, nil
}

// ChatStatus is the chat connection summary shown to admins.
type ChatStatus struct {
	State           string           `json:"state"`
	Authenticated   bool             `json:"authenticated"`
	Mode            string           `json:"mode"`
	BaseURL         string           `json:"base_url"`
	LastError       string           `json:"last_error,omitempty"`
	Patterns        []string         `json:"patterns"`
	InvalidPatterns []InvalidPattern `json:"invalid_patterns"`
}

// Status reports the current chat client and filter state.
func (s *SyncService) Status() ChatStatus {
	st := ChatStatus{
		State:           s.Chat.State().String(),
		Authenticated:   s.Chat.Authenticated(),
		Mode:            s.Chat.Mode(),
		BaseURL:         s.Chat.BaseURL(),
		Patterns:        s.Filter.Patterns(),
		InvalidPatterns: s.Filter.Invalid(),
	}
	if err := s.Chat.LastAuthError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}
