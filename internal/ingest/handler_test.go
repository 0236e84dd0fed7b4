package ingest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/internal/admission"
	"devpulse/internal/audit"
	"devpulse/internal/config"
	"devpulse/internal/hub"
	"devpulse/internal/logger"
	"devpulse/internal/normalizer"
	"devpulse/internal/router"
	"devpulse/internal/verifier"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/models"
)

const (
	githubSecret = "s3cret"
	pushBody     = `{
		"ref": "refs/heads/main",
		"after": "bbb",
		"repository": {"full_name": "acme/api"},
		"pusher": {"name": "octo"},
		"head_commit": {"id": "bbb", "message": "fix build", "timestamp": "2024-05-01T11:59:00Z"},
		"commits": [{"id": "bbb"}]
	}`
)

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(githubSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newVerifier(t *testing.T) *verifier.Verifier {
	t.Helper()
	v, err := verifier.New(config.WebhooksConfig{
		Providers: map[string]config.ProviderConfig{"github": {Secrets: []string{githubSecret}}},
	}, logger.NopLogger())
	require.NoError(t, err)
	return v
}

func githubRequest(deliveryID, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	if deliveryID != "" {
		req.Header.Set("X-GitHub-Delivery", deliveryID)
	}
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	return req
}

type fakeAdmitter struct {
	mu       sync.Mutex
	err      error
	decision admission.Decision
	released []string
}

func (a *fakeAdmitter) Admit(_ context.Context, _, _ string) (admission.Decision, error) {
	return a.decision, a.err
}

func (a *fakeAdmitter) Release(_ context.Context, provider, deliveryID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, provider+":"+deliveryID)
	return nil
}

type fakeSubmitter struct {
	err error
}

func (s fakeSubmitter) Submit(_ context.Context, event models.CanonicalEvent) (models.CanonicalEvent, error) {
	if s.err != nil {
		return event, s.err
	}
	event.Sequence = 1
	return event, nil
}

type pipeline struct {
	engine   *gin.Engine
	admitter *fakeAdmitter
	tracker  *audit.Tracker
}

func newFakePipeline(t *testing.T, admitter *fakeAdmitter, submitter Submitter, maxBody int64) pipeline {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tracker := audit.NewTracker(audit.NewMemoryStore(), config.AuditConfig{}, logger.NopLogger())
	h := NewHandler(newVerifier(t), admitter, normalizer.New(), submitter, tracker, maxBody, logger.NopLogger())
	engine := gin.New()
	h.RegisterRoutes(engine)
	return pipeline{engine: engine, admitter: admitter, tracker: tracker}
}

func (p pipeline) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	p.engine.ServeHTTP(w, req)
	return w
}

func (p pipeline) outcomes(t *testing.T) []string {
	t.Helper()
	records, err := p.tracker.Query(context.Background(), audit.Filter{Kind: models.AuditKindAdmission})
	require.NoError(t, err)
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Outcome)
	}
	return out
}

func TestReceive_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		req        func() *http.Request
		admitter   *fakeAdmitter
		submitter  fakeSubmitter
		wantStatus int
		wantCode   string
		wantAudit  string
		retryAfter bool
		released   int
	}{
		{
			name:       "admitted",
			req:        func() *http.Request { return githubRequest("d-1", pushBody, sign(pushBody)) },
			admitter:   &fakeAdmitter{decision: admission.Admitted},
			wantStatus: http.StatusOK,
			wantAudit:  "admitted",
		},
		{
			name:       "duplicate",
			req:        func() *http.Request { return githubRequest("d-1", pushBody, sign(pushBody)) },
			admitter:   &fakeAdmitter{decision: admission.Duplicate},
			wantStatus: http.StatusOK,
			wantAudit:  "duplicate",
		},
		{
			name:       "bad signature",
			req:        func() *http.Request { return githubRequest("d-1", pushBody, "sha256=00") },
			admitter:   &fakeAdmitter{},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
			wantAudit:  "rejected_signature",
		},
		{
			name:       "missing delivery id",
			req:        func() *http.Request { return githubRequest("", pushBody, sign(pushBody)) },
			admitter:   &fakeAdmitter{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "MALFORMED_PAYLOAD",
			wantAudit:  "malformed",
		},
		{
			name:       "malformed payload keeps admission",
			req:        func() *http.Request { return githubRequest("d-1", `{"ref":1}`, sign(`{"ref":1}`)) },
			admitter:   &fakeAdmitter{decision: admission.Admitted},
			wantStatus: http.StatusBadRequest,
			wantCode:   "MALFORMED_PAYLOAD",
			wantAudit:  "malformed",
		},
		{
			name:       "admission store down",
			req:        func() *http.Request { return githubRequest("d-1", pushBody, sign(pushBody)) },
			admitter:   &fakeAdmitter{err: apperrors.ErrAdmissionUnavailable.WithCause(errors.New("redis down"))},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "ADMISSION_UNAVAILABLE",
			wantAudit:  "unavailable",
			retryAfter: true,
		},
		{
			name:       "router busy releases admission",
			req:        func() *http.Request { return githubRequest("d-1", pushBody, sign(pushBody)) },
			admitter:   &fakeAdmitter{decision: admission.Admitted},
			submitter:  fakeSubmitter{err: apperrors.ErrBusy},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "BUSY",
			wantAudit:  "busy",
			retryAfter: true,
			released:   1,
		},
		{
			name:       "router stopped releases admission",
			req:        func() *http.Request { return githubRequest("d-1", pushBody, sign(pushBody)) },
			admitter:   &fakeAdmitter{decision: admission.Admitted},
			submitter:  fakeSubmitter{err: context.Canceled},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "SERVICE_UNAVAILABLE",
			wantAudit:  "unavailable",
			retryAfter: true,
			released:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePipeline(t, tt.admitter, tt.submitter, 0)
			w := p.do(tt.req())

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.wantCode, body["error_code"])
			}
			if tt.retryAfter {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, w.Header().Get("Retry-After"))
			}
			assert.Len(t, tt.admitter.released, tt.released)
			assert.Equal(t, []string{tt.wantAudit}, p.outcomes(t))
		})
	}
}

func TestReceive_UnsupportedProvider(t *testing.T) {
	p := newFakePipeline(t, &fakeAdmitter{}, fakeSubmitter{}, 0)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/jenkins", strings.NewReader(pushBody))
	w := p.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"unsupported_provider"}, p.outcomes(t))
}

func TestReceive_BodyTooLarge(t *testing.T) {
	p := newFakePipeline(t, &fakeAdmitter{decision: admission.Admitted}, fakeSubmitter{}, 64)

	body := `{"padding":"` + strings.Repeat("x", 128) + `"}`
	w := p.do(githubRequest("d-1", body, sign(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAYLOAD_TOO_LARGE", resp["error_code"])

	records, err := p.tracker.Query(context.Background(), audit.Filter{Kind: models.AuditKindAdmission})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", records[0].Details["error_code"])
}

// End to end: a signed delivery is admitted once, sequenced, and fanned out
// to a live subscriber exactly once even when the provider redelivers it.
func TestReceive_DeliveryReachesSubscriberOnce(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NopLogger()

	h := hub.New(config.HubConfig{
		BufferSize:   16,
		LagThreshold: 12,
		LagWindow:    time.Second,
		WriteTimeout: time.Second,
		PingInterval: time.Second,
		ReadLimit:    4096,
	}, log)
	r := router.New(config.RouterConfig{
		QueueCapacity:  16,
		LaneCapacity:   16,
		EnqueueTimeout: time.Second,
		IdleTimeout:    time.Minute,
	}, router.NewMemoryCheckpointStore(), log, h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
		h.Shutdown()
	})

	admitter := admission.NewService(admission.NewMemoryRepository(), config.AdmissionConfig{Retention: time.Hour}, log)
	tracker := audit.NewTracker(audit.NewMemoryStore(), config.AuditConfig{}, log)

	engine := gin.New()
	NewHandler(newVerifier(t), admitter, normalizer.New(), r, tracker, 0, log).RegisterRoutes(engine)
	hub.NewHandler(h, log).RegisterRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, ws.WriteJSON(hub.ClientMessage{Type: hub.MessageTypeSubscribe, Patterns: []string{"repo:acme/*"}}))
	var ack hub.ControlMessage
	require.NoError(t, ws.ReadJSON(&ack))
	require.Equal(t, hub.MessageTypeSubscribed, ack.Type)

	post := func() (*http.Response, Response) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/github", bytes.NewBufferString(pushBody))
		require.NoError(t, err)
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-GitHub-Delivery", "d-100")
		req.Header.Set("X-Hub-Signature-256", sign(pushBody))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp, body
	}

	resp, first := post()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admitted", first.Status)
	assert.Equal(t, "repo:acme/api", first.EntityKey)
	assert.Equal(t, uint64(1), first.Sequence)

	resp, second := post()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", second.Status)

	var msg hub.EventMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, first.EventID, msg.EventID)
	assert.Equal(t, models.EventTypePush, msg.Type)
	assert.Equal(t, uint64(1), msg.Sequence)

	_ = ws.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = ws.ReadMessage()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no second message, got %v", err)

	records, err := tracker.Query(context.Background(), audit.Filter{Provider: "github", DeliveryID: "d-100"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "admitted", records[0].Outcome)
	assert.Equal(t, first.EventID, records[0].EventID)
	assert.Equal(t, "duplicate", records[1].Outcome)
}
