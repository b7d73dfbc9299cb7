// Package httpapi is the HTTP Server & Router (A1): a gin engine with a
// zap request-logging middleware and the four routes spec.md §6 names,
// grounded on the teacher's cmd/billing/main.go wiring (gin.New plus
// gin.Recovery, a plain /healthz, an authenticated route group).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/crypto"
	"github.com/openclaw/deploy-orchestrator/internal/domain"
	"github.com/openclaw/deploy-orchestrator/internal/eventbus"
	"github.com/openclaw/deploy-orchestrator/internal/guard"
	"github.com/openclaw/deploy-orchestrator/internal/identity"
	"github.com/openclaw/deploy-orchestrator/internal/orcherrors"
	"github.com/openclaw/deploy-orchestrator/internal/payment"
	"github.com/openclaw/deploy-orchestrator/internal/ratelimit"
)

type UserRepository interface {
	FindOrCreateByEmail(ctx context.Context, email, externalAuthID string) (domain.User, error)
}

type DeploymentReader interface {
	FindByID(ctx context.Context, id string) (*domain.Deployment, error)
}

type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (payment.WebhookResult, error)
}

type Server struct {
	users     UserRepository
	guard     *guard.Guard
	deploys   DeploymentReader
	webhook   WebhookHandler
	bus       eventbus.Bus
	limiter   ratelimit.Limiter
	resolver  identity.Resolver
	box       *crypto.Box
	log       *zap.Logger
	engine    *gin.Engine
}

func New(users UserRepository, g *guard.Guard, deploys DeploymentReader, webhook WebhookHandler, bus eventbus.Bus, limiter ratelimit.Limiter, resolver identity.Resolver, box *crypto.Box, log *zap.Logger) *Server {
	s := &Server{
		users:    users,
		guard:    g,
		deploys:  deploys,
		webhook:  webhook,
		bus:      bus,
		limiter:  limiter,
		resolver: resolver,
		box:      box,
		log:      log,
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/status", s.handleStatus)
	r.POST("/webhook/payment", s.handleWebhook)

	checkout := r.Group("/checkout")
	checkout.Use(s.requireIdentity(), s.rateLimited("POST /checkout"))
	checkout.POST("", s.handleCheckout)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := s.resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("identity", id)
		c.Next()
	}
}

func (s *Server) rateLimited(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.MustGet("identity").(identity.Identity)
		allowed, retryAfter, err := s.limiter.Admit(c.Request.Context(), id.ID, route)
		if err != nil {
			s.log.Warn("rate limiter error, admitting request", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", formatSeconds(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

type checkoutRequest struct {
	Model        string `json:"model"`
	Channel      string `json:"channel"`
	ChannelToken string `json:"channelToken"`
	LLMAPIKey    string `json:"llmApiKey"`
	Tier         string `json:"tier"`
}

func (r checkoutRequest) Validate() error {
	if r.Model == "" || r.Channel == "" || r.ChannelToken == "" {
		return errors.New("model, channel, and channelToken are required")
	}
	return nil
}

func (s *Server) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident := c.MustGet("identity").(identity.Identity)
	user, err := s.users.FindOrCreateByEmail(c.Request.Context(), ident.Email, ident.ID)
	if err != nil {
		s.log.Error("checkout: find or create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": orcherrors.UserMessage(err)})
		return
	}

	encToken, err := s.box.Encrypt(req.ChannelToken)
	if err != nil {
		s.log.Error("checkout: encrypt channel token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred"})
		return
	}
	encKey, err := s.box.Encrypt(req.LLMAPIKey)
	if err != nil {
		s.log.Error("checkout: encrypt llm api key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred"})
		return
	}

	in := domain.DeploymentCreateInput{
		UserID:             user.ID,
		Model:              req.Model,
		Channel:            req.Channel,
		ChannelToken:       encToken,
		ChannelTokenLookup: s.box.LookupHash(req.ChannelToken),
		LLMAPIKey:          encKey,
	}

	url, _, err := s.guard.RequestCheckout(c.Request.Context(), user.Email, in)
	if err != nil {
		s.log.Error("checkout: request checkout", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": orcherrors.UserMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionUrl": url})
}

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	// Stripe's actual delivery header, not the generic "webhook-signature"
	// name; internal/payment verifies it via stripe-go's webhook package.
	sig := c.GetHeader("Stripe-Signature")
	result, err := s.webhook.HandleWebhook(c.Request.Context(), body, sig)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	if result.Duplicate || result.DeploymentID == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if err := s.bus.Publish(c.Request.Context(), eventbus.Event{
		Type:         eventbus.DeploymentStarted,
		DeploymentID: result.DeploymentID,
	}); err != nil {
		s.log.Error("checkout.completed: publish deployment started", zap.String("deploymentId", result.DeploymentID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type statusResponse struct {
	Status                  domain.Status `json:"status"`
	Channel                 string        `json:"channel,omitempty"`
	ProviderURL             string        `json:"providerUrl,omitempty"`
	MarketplaceDeploymentID string        `json:"marketplaceDeploymentId,omitempty"`
	MarketplaceLeaseID      string        `json:"marketplaceLeaseId,omitempty"`
	ErrorMessage            string        `json:"errorMessage,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	id := c.Query("id")
	if id == "" || uuid.Validate(id) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}
	d, err := s.deploys.FindByID(c.Request.Context(), id)
	if err != nil {
		s.log.Error("status: find deployment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred"})
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		Status:                  d.Status,
		Channel:                 d.Channel,
		ProviderURL:             d.ProviderURL,
		MarketplaceDeploymentID: d.MarketplaceDeploymentID,
		MarketplaceLeaseID:      d.MarketplaceLeaseID,
		ErrorMessage:            d.ErrorMessage,
	})
}
