package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/linkeye/internal/alert"
	"github.com/linkeye/internal/auth"
	"github.com/linkeye/internal/history"
	"github.com/linkeye/internal/ingest"
	"github.com/linkeye/internal/links"
	"github.com/linkeye/internal/loss"
	"github.com/linkeye/internal/models"
	"github.com/linkeye/internal/report"
	"github.com/linkeye/internal/settings"
	"github.com/linkeye/internal/suppression"
	"github.com/linkeye/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const signingSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSnapshot struct{ snap *ingest.Snapshot }

func (s staticSnapshot) Snapshot() *ingest.Snapshot { return s.snap }

type staticMetrics map[string]interface{}

func (m staticMetrics) GetMetrics() map[string]interface{} { return m }

type fixture struct {
	db     *gorm.DB
	server *Server
	deps   Deps
	tokens map[models.Role]string
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	authn, err := auth.New("test-secret", db)
	require.NoError(t, err)

	collected := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := ingest.NewSnapshot([]models.CardSnapshot{
		{Serial: "BOA100", CardModel: "BOA-23", Metrics: map[string]float64{models.MetricOutLinePower: 2.5}},
		{Serial: "PRA100", CardModel: "PRA-17", Metrics: map[string]float64{models.MetricInLinePower: -4.5}},
		{Serial: "BOA200", CardModel: "BOA-23", Metrics: map[string]float64{models.MetricOutLinePower: 1.0}},
	}, collected)

	reports, err := report.NewGenerator(db)
	require.NoError(t, err)

	deps := Deps{
		Reports:      reports,
		Auth:         authn,
		Links:        links.NewManager(db),
		Suppressions: suppression.NewStore(db),
		History:      history.NewStore(db),
		Alerts:       alert.NewLog(db),
		Settings:     settings.NewStore(db, settings.Defaults()),
		Snapshots:    staticSnapshot{snap: snap},
		Metrics:      staticMetrics{"total_cycles": 3},
		Calculator: loss.Calculator{
			Classifier: loss.Classifier{OriginPrefix: "BOA", TargetPrefix: "PRA", FanPrefix: "FAN"},
		},
		SlackSigningSecret: signingSecret,
		Logger:             zap.NewNop(),
	}

	f := &fixture{db: db, deps: deps, tokens: map[models.Role]string{}, now: collected.Add(time.Minute)}
	f.server = NewServer(deps)
	f.server.now = func() time.Time { return f.now }

	for _, role := range []models.Role{models.RoleAdmin, models.RoleOperator, models.RoleViewer} {
		user := &models.User{Username: string(role), Role: role, IsActive: true}
		require.NoError(t, user.SetPassword("pw"))
		require.NoError(t, db.Create(user).Error)
		token, err := authn.GenerateToken(user)
		require.NoError(t, err)
		f.tokens[role] = token
	}
	return f
}

func (f *fixture) do(t *testing.T, role models.Role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[role])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) seedLink(t *testing.T) models.LinkDefinition {
	t.Helper()
	link := models.LinkDefinition{OriginSerial: "BOA100", DestSerial: "PRA100", Alias: "north", Enabled: true}
	require.NoError(t, f.deps.Links.Create(context.Background(), &link))
	return link
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.Token)

	w = f.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequiresToken(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "", http.MethodGet, "/api/v1/links", nil).Code)
}

func TestListLinks_CurrentLoss(t *testing.T) {
	f := newFixture(t)
	f.seedLink(t)
	single := models.LinkDefinition{OriginSerial: "BOA200", IsSingle: true, Enabled: true}
	require.NoError(t, f.deps.Links.Create(context.Background(), &single))
	missing := models.LinkDefinition{OriginSerial: "BOA300", DestSerial: "PRA300", Enabled: true}
	require.NoError(t, f.deps.Links.Create(context.Background(), &missing))
	require.NoError(t, f.deps.Suppressions.Inhibit(context.Background(), "BOA100", "works", "ops"))

	w := f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/links", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Links []LinkStatus `json:"links"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Links, 3)

	north := resp.Links[0]
	assert.Equal(t, "BOA100", north.OriginSerial)
	require.NotNil(t, north.CurrentLoss)
	assert.InDelta(t, 7.0, *north.CurrentLoss, 1e-9)
	assert.True(t, north.Inhibited)

	assert.Nil(t, resp.Links[1].CurrentLoss)
	assert.Empty(t, resp.Links[1].Error, "single-ended links have no loss but are not broken")
	assert.NotEmpty(t, resp.Links[2].Error)
}

func TestLinkCRUD(t *testing.T) {
	f := newFixture(t)
	body := gin.H{"origin_serial": "BOA500", "dest_serial": "PRA500", "loss_reference": 12.5}

	assert.Equal(t, http.StatusForbidden, f.do(t, models.RoleOperator, http.MethodPost, "/api/v1/links", body).Code)

	w := f.do(t, models.RoleAdmin, http.MethodPost, "/api/v1/links", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.LinkDefinition
	decode(t, w, &created)
	assert.True(t, created.Enabled, "links are enabled unless told otherwise")
	path := "/api/v1/links/" + strconv.FormatUint(uint64(created.ID), 10)

	w = f.do(t, models.RoleAdmin, http.MethodPut, path, gin.H{"alias": "renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	got, err := f.deps.Links.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Alias)
	assert.Equal(t, 12.5, got.LossReference)

	require.Equal(t, http.StatusOK, f.do(t, models.RoleAdmin, http.MethodPut, path+"/disable", nil).Code)
	got, err = f.deps.Links.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, models.RoleAdmin, http.MethodPost, "/api/v1/links", gin.H{"origin_serial": "BOA600"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/links/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, models.RoleAdmin, http.MethodPut, "/api/v1/links/999", gin.H{"alias": "x"}).Code)

	require.Equal(t, http.StatusOK, f.do(t, models.RoleAdmin, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, models.RoleViewer, http.MethodGet, path, nil).Code)
}

func TestImportAndExportLinks(t *testing.T) {
	f := newFixture(t)
	doc := `
links:
  - origin_serial: BOA100
    dest_serial: PRA100
    alias: north
  - origin_serial: BOA200
    is_single: true
    enabled: false
`
	w := f.do(t, models.RoleAdmin, http.MethodPost, "/api/v1/links/import", doc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"imported":2}`, w.Body.String())

	all, err := f.deps.Links.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	bad := "links:\n  - dest_serial: PRA1\n"
	assert.Equal(t, http.StatusBadRequest, f.do(t, models.RoleAdmin, http.MethodPost, "/api/v1/links/import", bad).Code)

	w = f.do(t, models.RoleAdmin, http.MethodGet, "/api/v1/links/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported, err := links.ParseYAML(w.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, exported, 2)
}

func TestLinkHistory(t *testing.T) {
	f := newFixture(t)
	link := f.seedLink(t)
	require.NoError(t, f.deps.History.Append(context.Background(), []models.LossHistory{
		{LinkID: link.ID, OriginSerial: "BOA100", Loss: 7.0, RecordedAt: f.now.Add(-2 * time.Hour)},
		{LinkID: link.ID, OriginSerial: "BOA100", Loss: 7.1, RecordedAt: f.now.Add(-48 * time.Hour)},
	}))

	path := fmt.Sprintf("/api/v1/links/%d/history", link.ID)
	w := f.do(t, models.RoleViewer, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []models.LossHistory
	decode(t, w, &rows)
	assert.Len(t, rows, 1)

	since := url.QueryEscape(f.now.Add(-72 * time.Hour).Format(time.RFC3339))
	w = f.do(t, models.RoleViewer, http.MethodGet, path+"?since="+since, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rows)
	assert.Len(t, rows, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(t, models.RoleViewer, http.MethodGet, path+"?since=yesterday", nil).Code)
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.deps.Alerts.Record(ctx, &models.Alert{EventID: "a", OriginSerial: "BOA100", Detector: models.DetectorDrift, FiredAt: f.now}))
	require.NoError(t, f.deps.Alerts.Record(ctx, &models.Alert{EventID: "b", OriginSerial: "BOA200", Detector: models.DetectorRapidJump, FiredAt: f.now}))

	w := f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/alerts?detector=drift", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alerts []models.Alert
	decode(t, w, &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a", alerts[0].EventID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/alerts?limit=many", nil).Code)
}

func TestSuppressions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, http.StatusForbidden,
		f.do(t, models.RoleViewer, http.MethodPost, "/api/v1/suppressions/BOA100/inhibit", gin.H{"reason": "x"}).Code)

	require.Equal(t, http.StatusOK,
		f.do(t, models.RoleOperator, http.MethodPost, "/api/v1/suppressions/BOA100/inhibit", gin.H{"reason": "fiber works"}).Code)
	inhibited, err := f.deps.Suppressions.IsInhibited(ctx, "BOA100")
	require.NoError(t, err)
	assert.True(t, inhibited)

	w := f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/suppressions/inhibitions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []models.Inhibition
	decode(t, w, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "operator", rows[0].CreatedBy)

	require.Equal(t, http.StatusOK, f.do(t, models.RoleOperator, http.MethodDelete, "/api/v1/suppressions/BOA100/inhibit", nil).Code)
	inhibited, err = f.deps.Suppressions.IsInhibited(ctx, "BOA100")
	require.NoError(t, err)
	assert.False(t, inhibited)

	t.Run("acknowledge", func(t *testing.T) {
		w := f.do(t, models.RoleOperator, http.MethodPost, "/api/v1/suppressions/BOA100/ack", gin.H{"loss": 7.4, "hours": 2})
		require.Equal(t, http.StatusOK, w.Code)

		ack, err := f.deps.Suppressions.ActiveAcknowledgment(ctx, "BOA100", f.now)
		require.NoError(t, err)
		require.NotNil(t, ack)
		assert.Equal(t, 7.4, ack.AcknowledgedLoss)
		assert.WithinDuration(t, f.now.Add(2*time.Hour), ack.ExpiresAt, time.Second)

		assert.Equal(t, http.StatusBadRequest,
			f.do(t, models.RoleOperator, http.MethodPost, "/api/v1/suppressions/BOA100/ack", gin.H{"hours": 2}).Code)

		require.Equal(t, http.StatusOK, f.do(t, models.RoleOperator, http.MethodDelete, "/api/v1/suppressions/BOA100/ack", nil).Code)
		ack, err = f.deps.Suppressions.ActiveAcknowledgment(ctx, "BOA100", f.now)
		require.NoError(t, err)
		assert.Nil(t, ack)
	})
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, models.RoleAdmin, http.MethodPut, "/api/v1/settings",
		gin.H{settings.KeyAlertJitterThreshold: "0.5", settings.KeyScanIntervalMinutes: "2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := f.deps.Settings.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.JitterThreshold)
	assert.Equal(t, 2*time.Minute, got.ScanInterval)

	for _, body := range []gin.H{
		{settings.KeyAlertJitterThreshold: "lots"},
		{settings.KeyPersistNextRunAt: "0"},
		{"unknown": "1"},
	} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, models.RoleAdmin, http.MethodPut, "/api/v1/settings", body).Code)
	}
	assert.Equal(t, http.StatusForbidden,
		f.do(t, models.RoleOperator, http.MethodPut, "/api/v1/settings", gin.H{settings.KeyMaintenanceMode: "true"}).Code)

	w = f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Stored    map[string]string      `json:"stored"`
		Effective map[string]interface{} `json:"effective"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "0.5", resp.Stored[settings.KeyAlertJitterThreshold])
	assert.Equal(t, "2m0s", resp.Effective["scan_interval"])
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_cycles":3}`, w.Body.String())
}

func slackRequest(t *testing.T, secret string, ts time.Time, payload string) *http.Request {
	t.Helper()
	body := url.Values{"payload": {payload}}.Encode()
	stamp := strconv.FormatInt(ts.Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + stamp + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/slack/interactions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

const acceptPayload = `{
	"type": "block_actions",
	"user": {"id": "U1", "name": "noc-alice"},
	"actions": [{"action_id": "accept_level", "block_id": "actions", "type": "button", "value": "BOA100|7.40"}]
}`

func TestSlackInteraction_AcceptLevel(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, slackRequest(t, signingSecret, time.Now(), acceptPayload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ack, err := f.deps.Suppressions.ActiveAcknowledgment(context.Background(), "BOA100", f.now)
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.Equal(t, 7.4, ack.AcknowledgedLoss)
	assert.Equal(t, "slack:noc-alice", ack.CreatedBy)
	assert.WithinDuration(t, f.now.Add(alert.DefaultAckDuration), ack.ExpiresAt, time.Second)
}

func TestSlackInteraction_Rejected(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, slackRequest(t, "wrong-secret", time.Now(), acceptPayload))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, slackRequest(t, signingSecret, time.Now().Add(-time.Hour), acceptPayload))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ack, err := f.deps.Suppressions.ActiveAcknowledgment(context.Background(), "BOA100", f.now)
	require.NoError(t, err)
	assert.Nil(t, ack)
}

func TestSlackInteraction_OtherButtonIgnored(t *testing.T) {
	f := newFixture(t)
	payload := `{"type":"block_actions","user":{"name":"x"},"actions":[{"action_id":"open_dashboard","block_id":"b","type":"button","value":"1"}]}`

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, slackRequest(t, signingSecret, time.Now(), payload))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deps.Alerts.Record(context.Background(), &models.Alert{
		EventID: "r1", OriginSerial: "BOA100", Detector: models.DetectorRapidJump,
		Level: models.AlertLevelCritical, FiredAt: f.now.Add(-time.Hour),
	}))

	w := f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/report?period=daily", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data report.ReportData
	decode(t, w, &data)
	assert.Equal(t, 1, data.AlertSummary.CriticalAlerts)

	w = f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/report?period=weekly&format=html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "LinkEye weekly report")

	assert.Equal(t, http.StatusBadRequest, f.do(t, models.RoleViewer, http.MethodGet, "/api/v1/report?period=yearly", nil).Code)
}
