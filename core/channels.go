package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Sync error codes.
const (
	SyncErrChannelCreation = "channel_creation"
	SyncErrChannelListing  = "channel_listing"
)

// ErrChannelNotFound is returned by LookupPrivateGroup when the chat server
// positively reports that no such group exists.
var ErrChannelNotFound = errors.New("chat channel not found")

// SyncError records one failed chat operation during a synchronization run.
type SyncError struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Channel string `json:"channel,omitempty"`
}

// CreatedChannel is a channel created during a run.
type CreatedChannel struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	GroupID int64  `json:"group_id"`
}

// SyncReport is the outcome of one CreateChannelsForCourse call.
type SyncReport struct {
	RunID           string           `json:"run_id"`
	MappingID       int64            `json:"mapping_id"`
	CourseID        int64            `json:"course_id"`
	CourseShortName string           `json:"course_shortname"`
	Created         []CreatedChannel `json:"created"`
	Existing        []string         `json:"existing"`
	Skipped         []string         `json:"skipped"`
	Errors          []SyncError      `json:"errors"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
}

// OK reports whether the run finished without errors.
func (r *SyncReport) OK() bool { return len(r.Errors) == 0 }

func (r *SyncReport) addError(code, channel string, err error) {
	msg := err.Error()
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		msg = chatErr.Message
	}
	r.Errors = append(r.Errors, SyncError{Code: code, Error: msg, Channel: channel})
}

// ChannelName derives the chat channel name of a course group: every byte
// outside [A-Za-z0-9_-] in "<shortname> - <group>" becomes "_". Cleaning is
// per byte: "Ö" turns into "__".
func ChannelName(courseShortName, groupName string) string {
	raw := courseShortName + " - " + groupName
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i++ {
		if isChannelNameByte(raw[i]) {
			out[i] = raw[i]
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

func isChannelNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

// ChannelSynchronizer makes sure matching course groups have chat channels.
// A synchronizer is cheap; each run keeps its own report.
type ChannelSynchronizer struct {
	api     ChatAPI
	courses CourseRepository
	filter  *GroupFilter
	now     func() time.Time
}

func NewChannelSynchronizer(api ChatAPI, courses CourseRepository, filter *GroupFilter) *ChannelSynchronizer {
	if filter == nil {
		filter = NewGroupFilter("")
	}
	return &ChannelSynchronizer{api: api, courses: courses, filter: filter, now: time.Now}
}

// CreateChannelsForCourse creates a private group for every group of the
// mapped course whose name passes the filter and has no channel yet.
// Chat failures are collected in the report; only missing credentials and
// LMS read failures are returned as errors.
func (s *ChannelSynchronizer) CreateChannelsForCourse(ctx context.Context, mapping CourseMapping) (*SyncReport, error) {
	if _, err := s.api.Session(); err != nil {
		return nil, err
	}

	course, err := s.courses.GetCourse(ctx, mapping.CourseID)
	if err != nil {
		return nil, err
	}
	groups, err := s.courses.GetGroupsByCourse(ctx, course.ID)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{
		RunID:           uuid.NewString(),
		MappingID:       mapping.ID,
		CourseID:        course.ID,
		CourseShortName: course.ShortName,
		Created:         []CreatedChannel{},
		Existing:        []string{},
		Skipped:         []string{},
		Errors:          []SyncError{},
		StartedAt:       s.now(),
	}

	// fetched lazily, once per run
	var existing map[string]struct{}

	for _, g := range groups {
		if !s.filter.Match(g.Name) {
			report.Skipped = append(report.Skipped, g.Name)
			continue
		}
		name := ChannelName(course.ShortName, g.Name)

		if existing == nil {
			rooms, err := s.api.ListRooms(ctx)
			if err != nil {
				report.addError(SyncErrChannelListing, "", err)
				break
			}
			existing = make(map[string]struct{}, len(rooms))
			for _, room := range rooms {
				existing[room.Name] = struct{}{}
			}
		}

		if _, ok := existing[name]; ok {
			report.Existing = append(report.Existing, name)
			continue
		}

		room, err := s.api.CreateGroup(ctx, name)
		if err != nil {
			log.Printf("[sync %s] create channel %s failed: %v", report.RunID, name, err)
			report.addError(SyncErrChannelCreation, name, err)
			continue
		}
		existing[name] = struct{}{}
		report.Created = append(report.Created, CreatedChannel{Name: name, ID: room.ID, GroupID: g.ID})
	}

	report.FinishedAt = s.now()
	log.Printf("[sync %s] course=%s groups=%d created=%d existing=%d skipped=%d errors=%d",
		report.RunID, course.ShortName, len(groups), len(report.Created), len(report.Existing), len(report.Skipped), len(report.Errors))
	return report, nil
}

// HasChannelForGroup checks whether the channel derived from group exists.
// It returns the remote id when it does. Only LMS read failures are errors.
func (s *ChannelSynchronizer) HasChannelForGroup(ctx context.Context, group Group) (string, bool, error) {
	course, err := s.courses.GetGroupCourse(ctx, group.ID)
	if err != nil {
		return "", false, err
	}
	id, ok := s.HasPrivateGroup(ctx, ChannelName(course.ShortName, group.Name))
	return id, ok, nil
}

// HasPrivateGroup returns the remote id of the private group name. Any
// failure, including transport errors, reads as "no such group".
func (s *ChannelSynchronizer) HasPrivateGroup(ctx context.Context, name string) (string, bool) {
	id, err := s.LookupPrivateGroup(ctx, name)
	if err != nil {
		return "", false
	}
	return id, true
}

// LookupPrivateGroup is HasPrivateGroup with the failure kept: ErrChannelNotFound
// when the server reports an unknown room, the underlying error otherwise.
func (s *ChannelSynchronizer) LookupPrivateGroup(ctx context.Context, name string) (string, error) {
	if _, err := s.api.Session(); err != nil {
		return "", err
	}
	room, err := s.api.GroupInfo(ctx, name)
	if err != nil {
		if IsChatError(err, ChatErrRoomNotFound) {
			return "", fmt.Errorf("%w: %s", ErrChannelNotFound, name)
		}
		return "", err
	}
	return room.ID, nil
}

// Filter returns the group filter in use.
func (s *ChannelSynchronizer) Filter() *GroupFilter { return s.filter }
