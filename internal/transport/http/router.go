package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quizroom/internal/app"
	"quizroom/internal/domain"
)

// RouterConfig carries what the HTTP surface needs besides the engine.
type RouterConfig struct {
	JWTSecret string
	Logger    *slog.Logger
	// Ready reports backing store health for /readyz. Nil means always ready.
	Ready func() error
}

type router struct {
	engine *app.Engine
	logger *slog.Logger
	ws     *WSHandler
}

// NewRouter mounts the room API, the admin surface and the websocket feed.
func NewRouter(engine *app.Engine, cfg RouterConfig) *gin.Engine {
	r := &router{
		engine: engine,
		logger: cfg.Logger,
		ws:     NewWSHandler(engine.Rooms, cfg.Logger),
	}

	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(cfg.Logger))

	g.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	g.GET("/readyz", func(c *gin.Context) {
		if cfg.Ready != nil {
			if err := cfg.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	api := g.Group("/api", JWTAuth(cfg.JWTSecret))
	{
		api.POST("/rooms", r.createRoom)
		api.GET("/rooms/:id", r.getRoom)
		api.POST("/rooms/:id/join", r.join)
		api.POST("/rooms/:id/start", r.start)
		api.POST("/rooms/:id/next", r.next)
		api.POST("/rooms/:id/finish", r.finish)
		api.POST("/rooms/:id/answers", r.submitAnswer)
		api.POST("/rooms/:id/buzzes", r.buzz)
		api.GET("/rooms/:id/question", r.currentQuestion)
		api.GET("/rooms/:id/leaderboard", r.leaderboard)
		api.GET("/rooms/:id/ws", r.ws.Serve)
		api.POST("/matchmaking", r.match)
		api.POST("/admin/rooms/:id/shutdown", r.emergencyShutdown)
	}
	return g
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

type createRoomRequest struct {
	Questions  []domain.Question `json:"questions" binding:"required"`
	Public     bool              `json:"public"`
	Topics     []string          `json:"topics"`
	SkillLevel string            `json:"skillLevel"`
	Difficulty string            `json:"difficulty"`
	MaxPlayers int               `json:"maxPlayers"`
}

type joinRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

type answerRequest struct {
	QuestionIndex *int   `json:"questionIndex" binding:"required"`
	AnswerIndex   *int   `json:"answerIndex" binding:"required"`
	Digest        string `json:"digest" binding:"required"`
}

type buzzRequest struct {
	Timestamp int64 `json:"timestamp" binding:"required"`
}

type shutdownRequest struct {
	Reason string `json:"reason"`
}

type shutdownResponse struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId"`
}

type matchResponse struct {
	Room *domain.RoomSummary `json:"room"`
}

func (r *router) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (r *router) createRoom(c *gin.Context) {
	var req createRoomRequest
	if !r.bind(c, &req) {
		return
	}
	room, err := r.engine.Rooms.CreateRoom(c.Request.Context(), callerID(c), app.RoomDraft{
		Questions:  req.Questions,
		Public:     req.Public,
		Topics:     req.Topics,
		SkillLevel: req.SkillLevel,
		Difficulty: req.Difficulty,
		MaxPlayers: req.MaxPlayers,
	})
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (r *router) getRoom(c *gin.Context) {
	room, err := r.engine.Rooms.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (r *router) join(c *gin.Context) {
	var req joinRequest
	if !r.bind(c, &req) {
		return
	}
	player, err := r.engine.Rooms.Join(c.Request.Context(), c.Param("id"), callerID(c), req.DisplayName)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

func (r *router) start(c *gin.Context) {
	room, err := r.engine.Lifecycle.Start(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (r *router) next(c *gin.Context) {
	room, err := r.engine.Lifecycle.NextQuestion(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (r *router) finish(c *gin.Context) {
	room, err := r.engine.Lifecycle.Finish(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (r *router) submitAnswer(c *gin.Context) {
	var req answerRequest
	if !r.bind(c, &req) {
		return
	}
	sub, err := r.engine.Rooms.SubmitAnswer(c.Request.Context(), c.Param("id"), callerID(c),
		*req.QuestionIndex, *req.AnswerIndex, req.Digest)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sub)
}

func (r *router) buzz(c *gin.Context) {
	var req buzzRequest
	if !r.bind(c, &req) {
		return
	}
	buzz, err := r.engine.Rooms.Buzz(c.Request.Context(), c.Param("id"), callerID(c), req.Timestamp)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, buzz)
}

func (r *router) currentQuestion(c *gin.Context) {
	q, err := r.engine.Rooms.CurrentQuestion(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (r *router) leaderboard(c *gin.Context) {
	lb, err := r.engine.Rooms.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func (r *router) match(c *gin.Context) {
	var req app.MatchRequest
	if !r.bind(c, &req) {
		return
	}
	summary, err := r.engine.Matchmaker.FindOptimalRoom(c.Request.Context(), req)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, matchResponse{Room: summary})
}

func (r *router) emergencyShutdown(c *gin.Context) {
	var req shutdownRequest
	if c.Request.ContentLength > 0 && !r.bind(c, &req) {
		return
	}
	room, err := r.engine.Lifecycle.EmergencyShutdown(c.Request.Context(), c.Param("id"), callerID(c), req.Reason)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, shutdownResponse{Success: true, RoomID: room.ID})
}
