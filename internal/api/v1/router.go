// Package v1 exposes transfers, history, destination configs and
// instrumentation data over HTTP.
package v1

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/apierrors"
	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/middleware"
	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/runner"
	"github.com/goatkit/tickettransfer/internal/service/transfer"
	"github.com/goatkit/tickettransfer/internal/service/transferconfig"
)

// APIResponse wraps every successful payload.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Transferer runs a transfer. *transfer.Service implements it.
type Transferer interface {
	Transfer(ctx context.Context, req transfer.Request) (*transfer.Outcome, error)
}

// HistoryReader queries the ledger. *repository.TransferHistoryRepository implements it.
type HistoryReader interface {
	GetByID(ctx context.Context, id int64) (*models.TransferHistory, error)
	ListByTicket(ctx context.Context, ticketID int) ([]*models.TransferHistory, error)
	ListRecent(ctx context.Context, limit int) ([]*models.TransferHistory, error)
	CountByTicket(ctx context.Context, ticketID int) (int, error)
}

// ConfigManager manages destination configs. *transferconfig.Service implements it.
type ConfigManager interface {
	Get(ctx context.Context, id int) (*models.TransferConfig, error)
	List(ctx context.Context, activeOnly bool) ([]*models.TransferConfig, error)
	Create(ctx context.Context, cfg *models.TransferConfig) (*models.TransferConfig, error)
	Update(ctx context.Context, cfg *models.TransferConfig) (*models.TransferConfig, error)
	Delete(ctx context.Context, id int) error
	TestConnection(ctx context.Context, id int) error
	Export(ctx context.Context, w io.Writer, opts transferconfig.ExportOptions) (int, error)
	Import(ctx context.Context, r io.Reader) (*transferconfig.ImportResult, error)
}

// TimeoutLogReader reads persisted instrumentation events.
// *repository.TimeoutLogRepository implements it.
type TimeoutLogReader interface {
	ListRecent(ctx context.Context, limit int, exceededOnly bool) ([]*models.TimeoutLog, error)
	Statistics(ctx context.Context, days int) (*models.TimeoutStatistics, error)
}

// StatusReporter lists background task status. *runner.Runner implements it.
type StatusReporter interface {
	Statuses(ctx context.Context) ([]runner.Status, error)
}

// Deps are the services behind the API. Nil members disable their routes.
type Deps struct {
	Transfers   Transferer
	History     HistoryReader
	Configs     ConfigManager
	TimeoutLogs TimeoutLogReader
	Runner      StatusReporter
}

// APIRouter registers the v1 routes.
type APIRouter struct {
	deps    Deps
	log     logrus.FieldLogger
	metrics bool
	started time.Time

	apiKeys       map[string]string
	limiter       *middleware.RateLimiter
	transferLimit int
}

// Option configures an APIRouter.
type Option func(*APIRouter)

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *APIRouter) { r.log = l }
}

// WithMetrics exposes /metrics from the default prometheus registry.
func WithMetrics() Option {
	return func(r *APIRouter) { r.metrics = true }
}

// WithAPIKeys requires one of keys (name to token) on every /api/v1 route.
func WithAPIKeys(keys map[string]string) Option {
	return func(r *APIRouter) { r.apiKeys = keys }
}

// WithTransferRateLimit caps POST /transfers at limit requests per hour for
// each API key or client IP. Zero disables the limit.
func WithTransferRateLimit(rl *middleware.RateLimiter, limit int) Option {
	return func(r *APIRouter) {
		r.limiter = rl
		r.transferLimit = limit
	}
}

// NewAPIRouter creates a router over deps.
func NewAPIRouter(deps Deps, opts ...Option) *APIRouter {
	r := &APIRouter{deps: deps, started: time.Now()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.Component(r.log, "api")
	return r
}

// NewEngine builds a gin engine with recovery, request logging and the v1 routes.
func (router *APIRouter) NewEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), router.requestLogger())
	router.Register(engine)
	return engine
}

// Register mounts the routes on r.
func (router *APIRouter) Register(r gin.IRouter) {
	r.GET("/health", router.handleHealth)
	if router.metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/v1", middleware.APIKeyAuth(router.apiKeys))

	if router.deps.Transfers != nil {
		handlers := []gin.HandlerFunc{router.handleCreateTransfer}
		if router.limiter != nil && router.transferLimit > 0 {
			handlers = append([]gin.HandlerFunc{middleware.RateLimitByClient(router.limiter, router.transferLimit)}, handlers...)
		}
		api.POST("/transfers", handlers...)
	}
	if router.deps.History != nil {
		api.GET("/transfers", router.handleListRecentTransfers)
		api.GET("/transfers/export.xlsx", router.handleExportTransfers)
		api.GET("/transfers/:id", router.handleGetTransfer)
		api.GET("/tickets/:id/transfers", router.handleGetTicketTransfers)
		api.GET("/tickets/:id/transfers/count", router.handleCountTicketTransfers)
	}
	if router.deps.Configs != nil {
		configs := api.Group("/transfer-configs")
		configs.GET("", router.handleListConfigs)
		configs.POST("", router.handleCreateConfig)
		configs.GET("/export", router.handleExportConfigs)
		configs.POST("/import", router.handleImportConfigs)
		configs.GET("/:id", router.handleGetConfig)
		configs.PUT("/:id", router.handleUpdateConfig)
		configs.DELETE("/:id", router.handleDeleteConfig)
		configs.POST("/:id/test", router.handleTestConfig)
	}
	if router.deps.TimeoutLogs != nil {
		api.GET("/timeout-logs", router.handleListTimeoutLogs)
		api.GET("/timeout-logs/stats", router.handleTimeoutStats)
	}
	if router.deps.Runner != nil {
		api.GET("/runner/tasks", router.handleRunnerStatus)
	}
}

func (router *APIRouter) handleHealth(c *gin.Context) {
	sendSuccess(c, gin.H{
		"status":    "healthy",
		"service":   "tickettransfer",
		"uptime":    time.Since(router.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

func (router *APIRouter) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := router.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request handled")
	}
}

func sendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func sendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// sendServiceError maps err to a registered code and logs unexpected failures.
func (router *APIRouter) sendServiceError(c *gin.Context, err error) {
	if apierrors.CodeFor(err) == apierrors.CodeInternalError {
		router.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	apierrors.FromError(c, err)
}

func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def, max int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
