package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkeye/internal/alert"
	"github.com/linkeye/internal/auth"
	"github.com/linkeye/internal/history"
	"github.com/linkeye/internal/ingest"
	"github.com/linkeye/internal/links"
	"github.com/linkeye/internal/loss"
	"github.com/linkeye/internal/models"
	"github.com/linkeye/internal/notify"
	"github.com/linkeye/internal/report"
	"github.com/linkeye/internal/settings"
	"github.com/linkeye/internal/suppression"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const maxImportSize = 1 << 20

type SnapshotSource interface {
	Snapshot() *ingest.Snapshot
}

type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

// Deps are the stores and services the API exposes.
type Deps struct {
	Auth               *auth.Authenticator
	Links              *links.Manager
	Suppressions       *suppression.Store
	History            *history.Store
	Alerts             *alert.Log
	Settings           *settings.Store
	Reports            *report.Generator
	Snapshots          SnapshotSource
	Metrics            MetricsSource
	Calculator         loss.Calculator
	SlackSigningSecret string
	AckDuration        time.Duration
	Logger             *zap.Logger
}

type Server struct {
	deps   Deps
	router *gin.Engine
	now    func() time.Time

	mu   sync.Mutex
	http *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.AckDuration <= 0 {
		deps.AckDuration = alert.DefaultAckDuration
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Logger))

	server := &Server{
		deps:   deps,
		router: router,
		now:    time.Now,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Public routes
	s.router.POST("/api/v1/auth/login", s.login)
	s.router.POST("/api/v1/slack/interactions", s.slackInteraction)

	api := s.router.Group("/api/v1")
	api.Use(s.deps.Auth.Middleware())

	suppress := auth.RequireRole(models.RoleAdmin, models.RoleOperator)
	admin := auth.RequireRole(models.RoleAdmin)

	linkGroup := api.Group("/links")
	{
		linkGroup.GET("", s.listLinks)
		linkGroup.GET("/:id", s.getLink)
		linkGroup.GET("/:id/history", s.linkHistory)
		linkGroup.POST("", admin, s.createLink)
		linkGroup.PUT("/:id", admin, s.updateLink)
		linkGroup.DELETE("/:id", admin, s.deleteLink)
		linkGroup.PUT("/:id/enable", admin, s.enableLink)
		linkGroup.PUT("/:id/disable", admin, s.disableLink)
		linkGroup.POST("/import", admin, s.importLinks)
		linkGroup.GET("/export", admin, s.exportLinks)
	}

	api.GET("/alerts", s.listAlerts)

	sup := api.Group("/suppressions")
	{
		sup.GET("/inhibitions", s.listInhibitions)
		sup.POST("/:serial/inhibit", suppress, s.inhibit)
		sup.DELETE("/:serial/inhibit", suppress, s.clearInhibition)
		sup.POST("/:serial/ack", suppress, s.acknowledge)
		sup.DELETE("/:serial/ack", suppress, s.clearAcknowledgment)
	}

	api.GET("/settings", s.getSettings)
	api.PUT("/settings", admin, s.updateSettings)
	api.GET("/metrics", s.metrics)
	api.GET("/report", s.report)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start(port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) login(c *gin.Context) {
	var loginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.deps.Auth.Login(loginReq.Username, loginReq.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// LinkStatus is a link definition with its loss in the current snapshot.
type LinkStatus struct {
	models.LinkDefinition
	CurrentLoss  *float64 `json:"current_loss"`
	FallbackPair bool     `json:"fallback_pair,omitempty"`
	Inhibited    bool     `json:"inhibited"`
	Error        string   `json:"error,omitempty"`
}

func (s *Server) listLinks(c *gin.Context) {
	var enabledPtr *bool
	if enabled := c.Query("enabled"); enabled != "" {
		enabledBool := enabled == "true"
		enabledPtr = &enabledBool
	}

	defs, err := s.deps.Links.List(c.Request.Context(), enabledPtr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	inhibitions, err := s.deps.Suppressions.ListInhibitions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	inhibited := make(map[string]bool, len(inhibitions))
	for _, in := range inhibitions {
		inhibited[in.OriginSerial] = true
	}

	snapshot := s.deps.Snapshots.Snapshot()
	out := make([]LinkStatus, 0, len(defs))
	for _, def := range defs {
		st := LinkStatus{LinkDefinition: def, Inhibited: inhibited[def.OriginSerial]}
		res, err := s.deps.Calculator.Evaluate(def, snapshot)
		if err != nil {
			st.Error = err.Error()
		} else if !def.IsSingle {
			current := res.CurrentLoss
			st.CurrentLoss = &current
			st.FallbackPair = res.FallbackPair
		}
		out = append(out, st)
	}

	c.JSON(http.StatusOK, gin.H{
		"links":        out,
		"collected_at": snapshot.CollectedAt(),
	})
}

func linkID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link ID"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, links.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) getLink(c *gin.Context) {
	id, ok := linkID(c)
	if !ok {
		return
	}

	link, err := s.deps.Links.Get(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (s *Server) createLink(c *gin.Context) {
	link := models.LinkDefinition{Enabled: true}
	if err := c.ShouldBindJSON(&link); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	link.ID = 0

	if err := links.Validate(link); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Links.Create(c.Request.Context(), &link); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, link)
}

func (s *Server) updateLink(c *gin.Context) {
	id, ok := linkID(c)
	if !ok {
		return
	}

	existing, err := s.deps.Links.Get(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, err)
		return
	}

	link := *existing
	if err := c.ShouldBindJSON(&link); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	link.ID = id
	link.CreatedAt = existing.CreatedAt

	if err := links.Validate(link); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Links.Update(c.Request.Context(), &link); err != nil {
		s.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

func (s *Server) deleteLink(c *gin.Context) {
	id, ok := linkID(c)
	if !ok {
		return
	}

	if err := s.deps.Links.Delete(c.Request.Context(), id); err != nil {
		s.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "link deleted successfully"})
}

func (s *Server) enableLink(c *gin.Context)  { s.setEnabled(c, true) }
func (s *Server) disableLink(c *gin.Context) { s.setEnabled(c, false) }

func (s *Server) setEnabled(c *gin.Context, enabled bool) {
	id, ok := linkID(c)
	if !ok {
		return
	}

	if err := s.deps.Links.SetEnabled(c.Request.Context(), id, enabled); err != nil {
		s.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": enabled})
}

// importLinks takes a YAML document with a top-level links list.
func (s *Server) importLinks(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	defs, err := links.ParseYAML(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := s.deps.Links.Import(c.Request.Context(), defs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"imported": n})
}

func (s *Server) exportLinks(c *gin.Context) {
	defs, err := s.deps.Links.List(c.Request.Context(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	data, err := links.MarshalYAML(defs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "application/yaml", data)
}

func (s *Server) linkHistory(c *gin.Context) {
	id, ok := linkID(c)
	if !ok {
		return
	}

	link, err := s.deps.Links.Get(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, err)
		return
	}

	since := s.now().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = t
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	rows, err := s.deps.History.Series(c.Request.Context(), link.OriginSerial, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rows)
}

func (s *Server) listAlerts(c *gin.Context) {
	filter := alert.ListFilter{
		OriginSerial: c.Query("serial"),
		Detector:     models.Detector(c.Query("detector")),
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	alerts, err := s.deps.Alerts.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, alerts)
}

func (s *Server) listInhibitions(c *gin.Context) {
	rows, err := s.deps.Suppressions.ListInhibitions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) inhibit(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	serial := c.Param("serial")
	if err := s.deps.Suppressions.Inhibit(c.Request.Context(), serial, req.Reason, c.GetString("username")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"serial": serial, "inhibited": true})
}

func (s *Server) clearInhibition(c *gin.Context) {
	serial := c.Param("serial")
	if err := s.deps.Suppressions.ClearInhibition(c.Request.Context(), serial); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"serial": serial, "inhibited": false})
}

func (s *Server) acknowledge(c *gin.Context) {
	var req struct {
		Loss  *float64 `json:"loss" binding:"required"`
		Hours float64  `json:"hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Loss < 0 || req.Hours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loss and hours must not be negative"})
		return
	}

	duration := s.deps.AckDuration
	if req.Hours > 0 {
		duration = time.Duration(req.Hours * float64(time.Hour))
	}
	serial := c.Param("serial")
	expiresAt := s.now().Add(duration)

	if err := s.deps.Suppressions.SetAcknowledgment(c.Request.Context(), serial, *req.Loss, expiresAt, c.GetString("username")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"serial": serial, "loss": *req.Loss, "expires_at": expiresAt.UTC()})
}

func (s *Server) clearAcknowledgment(c *gin.Context) {
	serial := c.Param("serial")
	if err := s.deps.Suppressions.ClearAcknowledgment(c.Request.Context(), serial); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"serial": serial, "acknowledged": false})
}

func (s *Server) getSettings(c *gin.Context) {
	raw, err := s.deps.Settings.Raw(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"stored": raw}
	if eff, err := s.deps.Settings.Load(c.Request.Context()); err != nil {
		resp["error"] = err.Error()
	} else {
		resp["effective"] = gin.H{
			"scan_interval":            eff.ScanInterval.String(),
			"loss_threshold_db":        eff.LossThresholdDb,
			"rapid_increase_threshold": eff.RapidIncreaseThreshold,
			"confirmation_samples":     eff.ConfirmationWindow(),
			"jitter_threshold":         eff.JitterThreshold,
			"drift_window":             eff.DriftWindow.String(),
			"drift_threshold":          eff.DriftThreshold,
			"maintenance":              eff.InMaintenance(s.now()),
			"persist_interval":         eff.PersistInterval.String(),
			"history_retention":        eff.HistoryRetention.String(),
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) updateSettings(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for key, value := range req {
		if err := settings.Check(key, value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	for key, value := range req {
		if err := s.deps.Settings.Set(c.Request.Context(), key, value); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"updated": len(req)})
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.GetMetrics())
}

// report renders ?period=daily|weekly as JSON, or HTML with format=html.
func (s *Server) report(c *gin.Context) {
	if s.deps.Reports == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reports are not enabled"})
		return
	}

	period := c.DefaultQuery("period", "daily")
	if _, ok := report.Periods[period]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be daily or weekly"})
		return
	}

	data, err := s.deps.Reports.Generate(c.Request.Context(), period, s.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if c.Query("format") != "html" {
		c.JSON(http.StatusOK, data)
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.deps.Reports.RenderHTML(c.Writer, data); err != nil {
		s.deps.Logger.Error("Failed to render report", zap.Error(err))
	}
}

// slackInteraction handles the "accept this level" button of drift alerts.
func (s *Server) slackInteraction(c *gin.Context) {
	if s.deps.SlackSigningSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "slack interactions are not configured"})
		return
	}

	verifier, err := slack.NewSecretsVerifier(c.Request.Header, s.deps.SlackSigningSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := verifier.Write(body); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := verifier.Ensure(); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid slack signature"})
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(form.Get("payload")), &cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interaction payload"})
		return
	}

	serial, level, ok := notify.AcceptedLevel(cb)
	if !ok {
		// Other buttons are not ours to handle.
		c.Status(http.StatusOK)
		return
	}

	expiresAt := s.now().Add(s.deps.AckDuration)
	by := "slack:" + cb.User.Name
	if err := s.deps.Suppressions.SetAcknowledgment(c.Request.Context(), serial, level, expiresAt, by); err != nil {
		s.deps.Logger.Error("Failed to store acknowledgment from Slack",
			zap.String("serial", serial), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.deps.Logger.Info("Loss level accepted from Slack",
		zap.String("serial", serial),
		zap.Float64("loss", level),
		zap.String("by", by),
		zap.Time("expires_at", expiresAt))
	c.JSON(http.StatusOK, gin.H{
		"response_type":    "in_channel",
		"replace_original": false,
		"text":             fmt.Sprintf("Loss %.2f dB accepted for %s until %s", level, serial, expiresAt.UTC().Format(time.RFC3339)),
	})
}
