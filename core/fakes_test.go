package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeChatServer emulates the chat REST endpoints used by ChatClient.
type fakeChatServer struct {
	mu         sync.Mutex
	rooms      []Room
	calls      map[string]int
	createFail map[string]string
	listFail   bool
	login      http.HandlerFunc
	srv        *httptest.Server
}

func newFakeChatServer(t *testing.T, rooms ...Room) *fakeChatServer {
	t.Helper()
	f := &fakeChatServer{
		rooms:      rooms,
		calls:      map[string]int{},
		createFail: map[string]string{},
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeChatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++

	if r.URL.Path == "/api/v1/login" {
		if f.login != nil {
			f.login(w, r)
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data":   map[string]string{"authToken": "tok-123456", "userId": "bot"},
		})
		return
	}

	if r.Header.Get("X-Auth-Token") == "" || r.Header.Get("X-User-Id") == "" {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false, "error": "You must be logged in to do this.",
		})
		return
	}

	switch r.URL.Path {
	case "/api/v1/rooms.get":
		if f.listFail {
			writeTestJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "listing unavailable"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"success": true, "update": f.rooms})
	case "/api/v1/groups.info":
		name := r.URL.Query().Get("roomName")
		for _, room := range f.rooms {
			if room.Name == name {
				writeTestJSON(w, http.StatusOK, map[string]any{"success": true, "group": room})
				return
			}
		}
		writeTestJSON(w, http.StatusBadRequest, map[string]any{
			"success":   false,
			"error":     "The required roomName param provided does not match any group [error-room-not-found]",
			"errorType": ChatErrRoomNotFound,
		})
	case "/api/v1/groups.create":
		var req createGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeTestJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "bad body"})
			return
		}
		if msg, ok := f.createFail[req.Name]; ok {
			writeTestJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": msg})
			return
		}
		room := Room{ID: fmt.Sprintf("g%d", len(f.rooms)+1), Name: req.Name, Type: "p"}
		f.rooms = append(f.rooms, room)
		writeTestJSON(w, http.StatusOK, map[string]any{"success": true, "group": room})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeChatServer) onLogin(h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.login = h
}

func (f *fakeChatServer) failCreate(name, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createFail[name] = msg
}

func (f *fakeChatServer) failListing() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFail = true
}

func (f *fakeChatServer) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeChatServer) roomNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.rooms))
	for _, r := range f.rooms {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// settings returns static token settings pointing at the fake server.
func (f *fakeChatServer) settings(t *testing.T) ChatSettings {
	t.Helper()
	u, err := url.Parse(f.srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	return ChatSettings{
		Host:      host,
		Port:      port,
		PlainHTTP: true,
		UseToken:  true,
		Username:  "bot",
		Password:  "static-token",
	}
}

func (f *fakeChatServer) client(t *testing.T) *ChatClient {
	t.Helper()
	c, err := NewChatClient(context.Background(), f.settings(t))
	if err != nil {
		t.Fatalf("NewChatClient: %v", err)
	}
	return c
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeCourseRepo is an in-memory CourseRepository.
type fakeCourseRepo struct {
	courses map[int64]Course
	groups  []Group
	err     error
}

func (r *fakeCourseRepo) GetCourse(_ context.Context, id int64) (*Course, error) {
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.courses[id]
	if !ok {
		return nil, fmt.Errorf("%w: get course: %w", ErrDataAccess, ErrNotFound)
	}
	return &c, nil
}

func (r *fakeCourseRepo) GetGroupsByCourse(_ context.Context, courseID int64) ([]Group, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []Group
	for _, g := range r.groups {
		if g.CourseID == courseID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeCourseRepo) GetGroupCourse(ctx context.Context, groupID int64) (*Course, error) {
	g, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return r.GetCourse(ctx, g.CourseID)
}

func (r *fakeCourseRepo) GetGroup(_ context.Context, id int64) (*Group, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, g := range r.groups {
		if g.ID == id {
			g := g
			return &g, nil
		}
	}
	return nil, fmt.Errorf("%w: get group: %w", ErrDataAccess, ErrNotFound)
}

// fakeMappingRepo is an in-memory CourseMappingRepository.
type fakeMappingRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]CourseMapping
}

func newFakeMappingRepo(courseIDs ...int64) *fakeMappingRepo {
	r := &fakeMappingRepo{items: map[int64]CourseMapping{}}
	for _, id := range courseIDs {
		_, _ = r.Create(context.Background(), id)
	}
	return r
}

func (r *fakeMappingRepo) List(_ context.Context) ([]CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CourseMapping, 0, len(r.items))
	for _, m := range r.items {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeMappingRepo) Get(_ context.Context, id int64) (*CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: get mapping: %w", ErrDataAccess, ErrNotFound)
	}
	return &m, nil
}

func (r *fakeMappingRepo) GetByCourse(_ context.Context, courseID int64) (*CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if m.CourseID == courseID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: get mapping by course: %w", ErrDataAccess, ErrNotFound)
}

func (r *fakeMappingRepo) Create(_ context.Context, courseID int64) (*CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if m.CourseID == courseID {
			return &m, nil
		}
	}
	r.nextID++
	m := CourseMapping{ID: r.nextID, CourseID: courseID, CreatedAt: time.Now()}
	r.items[m.ID] = m
	return &m, nil
}

func (r *fakeMappingRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return fmt.Errorf("%w: delete mapping: %w", ErrDataAccess, ErrNotFound)
	}
	delete(r.items, id)
	return nil
}

// sampleCourses has course 10 "C1" with two team groups and a staff group.
func sampleCourses() *fakeCourseRepo {
	return &fakeCourseRepo{
		courses: map[int64]Course{10: {ID: 10, ShortName: "C1", FullName: "Course One"}},
		groups: []Group{
			{ID: 1, CourseID: 10, Name: "Team A"},
			{ID: 2, CourseID: 10, Name: "Team B"},
			{ID: 3, CourseID: 10, Name: "Staff"},
		},
	}
}
