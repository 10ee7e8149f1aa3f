package controlplane

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/fentz26/agora/internal/metrics"
	"github.com/fentz26/agora/internal/models"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// JWTSecret enables bearer-token auth on the API when set.
	JWTSecret string `yaml:"jwt_secret"`
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// DefaultServerConfig returns the default API configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:    "127.0.0.1:7466",
		RateLimit: 50,
		RateBurst: 100,
	}
}

// StatsProvider reports worker pool state for /workers.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Server provides the HTTP API for agora.
type Server struct {
	service   *Service
	cfg       ServerConfig
	server    *http.Server
	metrics   *metrics.Collector
	events    http.Handler
	scheduler StatsProvider
	limiter   *ipLimiter
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, cfg ServerConfig) *Server {
	s := &Server{service: service, cfg: cfg}
	if cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return s
}

// SetMetrics exposes the collector on /metrics.
func (s *Server) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// SetEvents serves the live event stream on /events.
func (s *Server) SetEvents(h http.Handler) {
	s.events = h
}

// SetScheduler sets the scheduler for /workers.
func (s *Server) SetScheduler(sp StatsProvider) {
	s.scheduler = sp
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/")
	if s.limiter != nil {
		api.Use(s.limiter.middleware())
	}
	if s.cfg.JWTSecret != "" {
		api.Use(authMiddleware([]byte(s.cfg.JWTSecret)))
	}

	api.POST("/agents", s.registerAgent)
	api.GET("/agents", s.listAgents)
	api.GET("/agents/:id", s.getAgent)
	api.POST("/agents/:id/deactivate", s.deactivateAgent)

	api.POST("/tasks", s.createTask)
	api.GET("/tasks", s.listTasks)
	api.GET("/tasks/:id", s.getTask)
	api.POST("/tasks/:id/cancel", s.cancelTask)
	api.GET("/tasks/:id/bids", s.evaluateBids)
	api.GET("/tasks/:id/bids/:agent", s.evaluateBid)
	api.POST("/tasks/:id/award", s.awardTask)
	api.GET("/tasks/:id/team", s.decideTeam)
	api.POST("/tasks/:id/team", s.assignTeam)
	api.POST("/tasks/:id/assign", s.autoAssign)
	api.GET("/tasks/:id/assignment", s.getAssignment)
	api.POST("/tasks/:id/execute", s.executeTask)
	api.GET("/tasks/:id/runs", s.getRuns)

	api.POST("/learning", s.applyLearning)
	api.GET("/audit", s.listAudit)
	api.GET("/workers", s.getWorkers)
	if s.events != nil {
		api.GET("/events", gin.WrapH(s.events))
	}
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}
	log.Printf("Starting agora daemon on %s", s.cfg.Listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if kind := models.KindOf(err); kind != "" {
		body["kind"] = kind
		body["reason"] = models.ReasonOf(err)
	}
	if status == http.StatusInternalServerError {
		log.Printf("API error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, models.Validationf("api.decode", "invalid json: %v", err))
		return false
	}
	return true
}

// --- Health ---

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{OK: true, DB: "ok", Version: Version, Time: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if err := s.service.Ping(c.Request.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// --- Agent Handlers ---

func (s *Server) registerAgent(c *gin.Context) {
	var spec AgentSpec
	if !bindJSON(c, &spec) {
		return
	}
	agent, err := s.service.RegisterAgent(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) listAgents(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	agents, err := s.service.ListAgents(c.Request.Context(), activeOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	c.JSON(http.StatusOK, agents)
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.service.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) deactivateAgent(c *gin.Context) {
	if err := s.service.DeactivateAgent(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// --- Task Handlers ---

func (s *Server) createTask(c *gin.Context) {
	var req models.Task
	if !bindJSON(c, &req) {
		return
	}
	task, err := s.service.CreateTask(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.service.ListTasks(c.Request.Context(), models.TaskStatus(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelTask(c *gin.Context) {
	if err := s.service.CancelTask(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) evaluateBids(c *gin.Context) {
	bids, err := s.service.EvaluateBids(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	c.JSON(http.StatusOK, bids)
}

func (s *Server) evaluateBid(c *gin.Context) {
	bid, err := s.service.EvaluateBid(c.Request.Context(), c.Param("id"), c.Param("agent"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bid)
}

func (s *Server) awardTask(c *gin.Context) {
	ta, err := s.service.Award(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ta)
}

func maxSizeParam(c *gin.Context) (int, bool) {
	raw := c.Query("max_size")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(c, models.Validationf("api.decode", "max_size must be a positive integer"))
		return 0, false
	}
	return n, true
}

func (s *Server) decideTeam(c *gin.Context) {
	maxSize, ok := maxSizeParam(c)
	if !ok {
		return
	}
	ta, err := s.service.DecideTeam(c.Request.Context(), c.Param("id"), maxSize)
	if err != nil {
		if models.KindOf(err) == models.KindCapacity {
			// The empty team and its reason are the answer.
			c.JSON(http.StatusOK, ta)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ta)
}

func (s *Server) assignTeam(c *gin.Context) {
	maxSize, ok := maxSizeParam(c)
	if !ok {
		return
	}
	ta, err := s.service.AssignTeam(c.Request.Context(), c.Param("id"), maxSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ta)
}

func (s *Server) autoAssign(c *gin.Context) {
	ta, err := s.service.AutoAssign(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ta)
}

func (s *Server) getAssignment(c *gin.Context) {
	ta, err := s.service.GetAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ta)
}

func (s *Server) executeTask(c *gin.Context) {
	result, err := s.service.ExecuteTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getRuns(c *gin.Context) {
	runs, err := s.service.GetRuns(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

// --- Learning and Audit ---

func (s *Server) applyLearning(c *gin.Context) {
	var ev models.LearningEvent
	if !bindJSON(c, &ev) {
		return
	}
	agent, delta, err := s.service.ApplyLearningEvent(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, LearningResult{AgentID: ev.AgentID, Agent: agent, Delta: &delta})
}

func (s *Server) listAudit(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, models.Validationf("api.decode", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := s.service.ListAudit(c.Request.Context(), c.Query("task_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) getWorkers(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"active_workers": 0})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.GetStats())
}

// --- Middleware ---

// authMiddleware requires an HMAC-signed bearer token.
func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if header == "" || tokenString == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok {
				c.Set("subject", sub)
			}
		}
		c.Next()
	}
}

// IssueToken signs a token for subject, for CLI and test use.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := jwt.StandardClaims{
		Subject:   subject,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
