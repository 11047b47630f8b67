// Package httpapi exposes the directory, dispatch and history operations
// over HTTP.
//
// The transport is a thin adapter: handlers bind the request, call one
// service method and translate its structured error into a status code.
// No business rule lives here.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/dispatch"
	"github.com/cudi-org/safepay/intent"
	"github.com/cudi-org/safepay/ledger"
	"github.com/cudi-org/safepay/registry"
)

// ServiceName and APIVersion identify the service in meta endpoints.
const (
	ServiceName = "safepay"
	APIVersion  = "1.0.0"
)

// walletHeader carries the caller's authenticated wallet address.
const walletHeader = "X-Wallet-Address"

// Config collects the server's collaborators.
type Config struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	Parser     intent.Parser
	Chain      safepay.ChainConfig
	Logger     *slog.Logger

	// AllowedOrigins is the CORS allowlist; "*" allows any origin.
	AllowedOrigins []string
}

// Server is the HTTP front end.
type Server struct {
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	ledger     *ledger.Ledger
	parser     intent.Parser
	chain      safepay.ChainConfig
	logger     *slog.Logger
	started    time.Time
	engine     *gin.Engine
}

// New creates the Server and mounts all routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		dispatcher: cfg.Dispatcher,
		registry:   cfg.Registry,
		ledger:     cfg.Ledger,
		parser:     cfg.Parser,
		chain:      cfg.Chain,
		logger:     logger,
		started:    time.Now().UTC(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.Use(cors(cfg.AllowedOrigins))

	engine.GET("/", s.handleRoot)
	engine.GET("/health", s.handleHealth)

	engine.POST("/alias/register", s.handleRegisterAlias)
	engine.GET("/alias/search", s.handleSearchAliases)
	engine.GET("/alias/:alias", s.handleResolveAlias)
	engine.DELETE("/alias/:alias", s.handleDeleteAlias)
	engine.GET("/address/:address/alias", s.handleReverseResolve)

	engine.POST("/process_command", s.handleProcessCommand)
	engine.POST("/execute_payment", s.handleExecutePayment)

	engine.GET("/history/:address", s.handleHistory)
	engine.GET("/transaction/:hash", s.handleTransaction)

	engine.GET("/subscriptions/:address", s.handleListSubscriptions)
	engine.POST("/subscriptions/:id/cancel", s.handleCancelSubscription)

	s.engine = engine
	return s
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestLogger logs one line per request with method, path, status and
// latency.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// cors applies the configured origin allowlist and answers preflights.
func cors(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Wallet-Address, X-Signature")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// statusForCode maps structured error codes to HTTP status codes.
func statusForCode(code safepay.ErrorCode) int {
	switch code {
	case safepay.ErrCodeInvalidAddress, safepay.ErrCodeInvalidAlias,
		safepay.ErrCodeInvalidIntent, safepay.ErrCodeInvalidSplit:
		return http.StatusBadRequest
	case safepay.ErrCodeAddressMismatch:
		return http.StatusUnauthorized
	case safepay.ErrCodeInvalidSignature, safepay.ErrCodeNotOwner:
		return http.StatusForbidden
	case safepay.ErrCodeAliasNotFound, safepay.ErrCodeRecipientNotFound,
		safepay.ErrCodeTransactionNotFound, safepay.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound
	case safepay.ErrCodeAliasExists, safepay.ErrCodeAddressHasAlias,
		safepay.ErrCodeIntentInFlight:
		return http.StatusConflict
	case safepay.ErrCodeRailFailed, safepay.ErrCodeRailUnavailable,
		safepay.ErrCodeParserUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the error envelope returned on every failure.
type errorBody struct {
	Code    safepay.ErrorCode `json:"code"`
	Message string            `json:"message"`
	Details map[string]any    `json:"details,omitempty"`
}

// writeError renders err as the {error: {code, message}} envelope.
// Internal causes never leak into the response body.
func (s *Server) writeError(c *gin.Context, err error) {
	body := errorBody{Code: safepay.ErrCodeInternal, Message: "internal error"}
	var se *safepay.Error
	if errors.As(err, &se) {
		body.Code = se.Code
		body.Message = se.Message
		body.Details = se.Details
	}

	status := statusForCode(body.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
