package core

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

// RouterDeps carries everything the admin API needs. Queue and Metrics may be
// nil when Redis is not configured; the related endpoints then answer 503.
type RouterDeps struct {
	Config  Config
	Store   sessions.Store
	Auth    AuthService
	Sync    *SyncService
	Queue   SyncQueue
	Metrics *MetricsService
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(deps RouterDeps) *gin.Engine {
	startedAt := time.Now()
	cfg := deps.Config
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(OriginRefererMiddleware(cfg), SessionMiddleware(cfg, deps.Store), CSRFMiddleware(cfg))

	api.POST("/auth/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
			return
		}
		user, err := deps.Auth.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
			return
		}

		sess := sessionFrom(c)
		csrf := sess.Values["csrf_token"]
		sess.Values = map[interface{}]interface{}{
			"csrf_token": csrf,
			"username":   user.Username,
			"role":       user.Role,
		}
		applySessionOptions(cfg, sess)
		if err := sess.Save(c.Request, c.Writer); err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to set session")
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": gin.H{"username": user.Username, "role": user.Role}})
	})

	api.POST("/auth/logout", func(c *gin.Context) {
		sess := sessionFrom(c)
		sess.Values = map[interface{}]interface{}{}
		applySessionOptions(cfg, sess)
		sess.Options.MaxAge = -1
		if err := sess.Save(c.Request, c.Writer); err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to clear session")
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/users/me", func(c *gin.Context) {
		sess := sessionFrom(c)
		username, _ := sess.Values["username"].(string)
		if strings.TrimSpace(username) == "" {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
			return
		}
		role, _ := sess.Values["role"].(string)
		c.JSON(http.StatusOK, gin.H{"user": gin.H{"username": username, "role": role}})
	})

	admin := api.Group("/admin")
	admin.Use(AdminOnly())

	admin.GET("/chat/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Sync.Status())
	})

	admin.GET("/mappings", func(c *gin.Context) {
		items, err := deps.Sync.Mappings.List(c.Request.Context())
		if err != nil {
			respondSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})

	admin.POST("/mappings", func(c *gin.Context) {
		var req struct {
			CourseID int64 `json:"course_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.CourseID <= 0 {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "course_id is required")
			return
		}
		ctx := c.Request.Context()
		if _, err := deps.Sync.Courses.GetCourse(ctx, req.CourseID); err != nil {
			respondSyncError(c, err)
			return
		}
		m, err := deps.Sync.Mappings.Create(ctx, req.CourseID)
		if err != nil {
			respondSyncError(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	})

	admin.DELETE("/mappings/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		if err := deps.Sync.Mappings.Delete(c.Request.Context(), id); err != nil {
			respondSyncError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	admin.POST("/mappings/:id/sync", func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		report, err := deps.Sync.SyncMapping(c.Request.Context(), id)
		if err != nil {
			respondSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	admin.POST("/mappings/:id/enqueue", func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		if deps.Queue == nil {
			respondError(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "sync queue is not configured")
			return
		}
		ctx := c.Request.Context()
		if _, err := deps.Sync.Mappings.Get(ctx, id); err != nil {
			respondSyncError(c, err)
			return
		}
		if err := deps.Queue.Enqueue(ctx, strconv.FormatInt(id, 10)); err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to enqueue sync job")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": []int64{id}})
	})

	admin.POST("/sync/enqueue-all", func(c *gin.Context) {
		if deps.Queue == nil {
			respondError(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "sync queue is not configured")
			return
		}
		ctx := c.Request.Context()
		mappings, err := deps.Sync.Mappings.List(ctx)
		if err != nil {
			respondSyncError(c, err)
			return
		}
		queued := make([]int64, 0, len(mappings))
		for _, m := range mappings {
			if err := deps.Queue.Enqueue(ctx, strconv.FormatInt(m.ID, 10)); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to enqueue sync job")
				return
			}
			queued = append(queued, m.ID)
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": queued})
	})

	admin.GET("/groups/:id/channel", func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}
		group, channelID, exists, err := deps.Sync.ChannelForGroup(c.Request.Context(), id)
		if err != nil {
			respondSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"group": group, "exists": exists, "channel_id": channelID})
	})

	admin.GET("/channels/lookup", func(c *gin.Context) {
		name := strings.TrimSpace(c.Query("name"))
		if name == "" {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
			return
		}
		id, err := deps.Sync.Synchronizer().LookupPrivateGroup(c.Request.Context(), name)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"name": name, "exists": true, "channel_id": id})
		case errors.Is(err, ErrChannelNotFound):
			c.JSON(http.StatusOK, gin.H{"name": name, "exists": false})
		default:
			respondSyncError(c, err)
		}
	})

	metrics := admin.Group("/metrics")
	metrics.Use(func(c *gin.Context) {
		if deps.Metrics == nil {
			respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "redis is not configured")
			c.Abort()
			return
		}
		c.Next()
	})
	metrics.GET("/queue", func(c *gin.Context) {
		q, err := deps.Metrics.Queue(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to read queue metrics")
			return
		}
		c.JSON(http.StatusOK, q)
	})
	metrics.GET("/workers", func(c *gin.Context) {
		workers, err := deps.Metrics.Workers(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to read workers")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": workers})
	})
	metrics.GET("/workers/:id", func(c *gin.Context) {
		hb, err := deps.Metrics.WorkerByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "worker not found")
			return
		}
		c.JSON(http.StatusOK, hb)
	})

	admin.GET("/system/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, CollectSystemStatus(c.Request.Context(), deps.Sync, deps.Metrics, startedAt))
	})

	return r
}

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondSyncError maps domain errors to HTTP statuses.
func respondSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrNotAuthenticated):
		respondError(c, http.StatusServiceUnavailable, "CHAT_UNAUTHENTICATED", err.Error())
	case errors.Is(err, ErrDataAccess):
		respondError(c, http.StatusInternalServerError, "DATA_ACCESS_ERROR", err.Error())
	default:
		respondError(c, http.StatusBadGateway, "CHAT_ERROR", err.Error())
	}
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid "+name)
		return 0, false
	}
	return id, true
}
