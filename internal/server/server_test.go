package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	cameradomain "github.com/sentravision/sentra-cloud/internal/camera/domain"
	camerarepo "github.com/sentravision/sentra-cloud/internal/camera/repository"
	cameraservice "github.com/sentravision/sentra-cloud/internal/camera/service"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	edgerepo "github.com/sentravision/sentra-cloud/internal/edge/repository"
	edgeservice "github.com/sentravision/sentra-cloud/internal/edge/service"
	eventdomain "github.com/sentravision/sentra-cloud/internal/event/domain"
	eventservice "github.com/sentravision/sentra-cloud/internal/event/service"
	licensedomain "github.com/sentravision/sentra-cloud/internal/license/domain"
	licenserepo "github.com/sentravision/sentra-cloud/internal/license/repository"
	licenseservice "github.com/sentravision/sentra-cloud/internal/license/service"
	monitoringdomain "github.com/sentravision/sentra-cloud/internal/monitoring/domain"
	monitoringrepo "github.com/sentravision/sentra-cloud/internal/monitoring/repository"
	monitoringservice "github.com/sentravision/sentra-cloud/internal/monitoring/service"
	"github.com/sentravision/sentra-cloud/internal/notifier"
	orgservice "github.com/sentravision/sentra-cloud/internal/organization/service"
	"github.com/sentravision/sentra-cloud/internal/ratelimit"
	"github.com/sentravision/sentra-cloud/internal/secrets"
	"github.com/sentravision/sentra-cloud/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const serverTestCipherKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type serverFixture struct {
	db     *gorm.DB
	srv    *Server
	clk    *clock.FakeClock
	genID  *snowflake.Node
	orgID  snowflake.ID
	edge   edgedomain.EdgeNode
	secret string
}

var serverDBSeq atomic.Int64

func newServerFixture(t *testing.T) *serverFixture {
	return newServerFixtureWithLogger(t, zap.NewNop())
}

func newServerFixtureWithLogger(t *testing.T, log *zap.Logger) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", serverDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&edgedomain.EdgeNode{},
		&edgedomain.EdgeNonce{},
		&licensedomain.License{},
		&cameradomain.Camera{},
		&monitoringdomain.Scenario{},
		&monitoringdomain.ScenarioRule{},
		&monitoringdomain.CameraBinding{},
		&monitoringdomain.AlertPolicy{},
		&eventdomain.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cph, err := secrets.NewCipher(serverTestCipherKey)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	edgeCfg := config.NewStaticEdgeConfigHolder(config.DefaultEdgeConfig())

	f := &serverFixture{
		db:     db,
		clk:    clk,
		genID:  node,
		orgID:  node.Generate(),
		secret: "edge-shared-secret",
	}

	lic := licensedomain.License{
		ID:             node.Generate(),
		OrganizationID: f.orgID,
		LicenseKey:     "LIC-SRV-1",
		Status:         licensedomain.StatusActive,
		Plan:           "enterprise",
		MaxCameras:     8,
		Modules:        datatypes.JSON([]byte(`["face","fire","market"]`)),
	}
	require.NoError(t, db.Create(&lic).Error)

	sealed, err := cph.EncryptString(f.secret)
	require.NoError(t, err)

	licID := lic.ID
	f.edge = edgedomain.EdgeNode{
		ID:             node.Generate(),
		OrganizationID: f.orgID,
		LicenseID:      &licID,
		EdgeID:         "EDGE-SRV-1",
		EdgeKey:        "ek_srv_0123456789abcdef",
		EdgeSecret:     sealed,
	}
	require.NoError(t, db.Create(&f.edge).Error)

	eRepo := edgerepo.NewRepository(db, node)
	lRepo := licenserepo.NewRepository(db)
	cRepo := camerarepo.NewRepository(db)

	licSvc := licenseservice.NewService(licenseservice.ServiceParam{
		DB: db, Log: log, Clock: clk, Repo: lRepo, EdgeCfg: edgeCfg,
	})
	edgeSvc := edgeservice.NewService(edgeservice.ServiceParam{
		DB: db, Log: log, Clock: clk, Repo: eRepo,
		LicenseSvc: licSvc, CameraRepo: cRepo, Cipher: cph, EdgeCfg: edgeCfg,
	})
	monitoringSvc := monitoringservice.NewService(monitoringservice.ServiceParam{
		DB: db, Log: log, Clock: clk, GenID: node,
		Repo: monitoringrepo.NewRepository(db), CameraRepo: cRepo,
	})
	entitlements := orgservice.NewEntitlements(orgservice.EntitlementsParam{
		Log: log, LicenseRepo: lRepo,
	})
	eventSvc := eventservice.NewService(eventservice.ServiceParam{
		DB: db, Log: log, Clock: clk, GenID: node,
		Entitlements: entitlements, Monitoring: monitoringSvc,
		Notifier: notifier.NewLog(log), EdgeCfg: edgeCfg,
	})
	cameraSvc := cameraservice.NewService(cameraservice.ServiceParam{
		Log: log, Repo: cRepo,
	})

	f.srv = NewServer(ServerParams{
		Gin:        NewEngine(),
		Cfg:        config.Config{AppName: "sentra-test"},
		DB:         db,
		Log:        log,
		Clock:      clk,
		GenID:      node,
		Cipher:     cph,
		EdgeCfg:    edgeCfg,
		Suppressor: ratelimit.NewMemorySuppressor(clk),
		EdgeRepo:   eRepo,
		EdgeSvc:    edgeSvc,
		LicenseSvc: licSvc,
		EventSvc:   eventSvc,
		CameraSvc:  cameraSvc,
	})
	return f
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)
	return w
}

// signedRequest builds a request carrying valid signature headers for the
// fixture's edge node.
func (f *serverFixture) signedRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	ts := f.clk.Now().Unix()
	sig := signature.Sign(method, path[1:], ts, body, f.secret)
	req.Header.Set(HeaderEdgeKey, f.edge.EdgeKey)
	req.Header.Set(HeaderEdgeTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderEdgeSignature, sig)
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func heartbeatBody(edgeID string) []byte {
	return []byte(fmt.Sprintf(`{"edge_id":%q,"version":"1.4.2","online":true}`, edgeID))
}

func TestHeartbeat_FirstContactRevealsSecret(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/edges/heartbeat",
		bytes.NewReader(heartbeatBody("EDGE-SRV-1")))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, f.edge.EdgeKey, body["edge_key"])
	assert.Equal(t, f.secret, body["edge_secret"])

	// A second unsigned heartbeat is refused with the signal to sign.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/edges/heartbeat",
		bytes.NewReader(heartbeatBody("EDGE-SRV-1")))
	req.Header.Set("Content-Type", "application/json")
	w = f.do(req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "hmac_required", decodeBody(t, w)["reason"])
}

func TestHeartbeat_SignedNeverCarriesSecret(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(f.signedRequest(http.MethodPost, "/api/v1/edges/heartbeat",
		heartbeatBody("EDGE-SRV-1")))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	_, hasSecret := body["edge_secret"]
	assert.False(t, hasSecret)
}

func TestHeartbeat_UnknownEdgeID(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/edges/heartbeat",
		bytes.NewReader(heartbeatBody("EDGE-GHOST")))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHeartbeat_MissingEdgeID(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/edges/heartbeat",
		bytes.NewReader([]byte(`{"version":"1.4.2","online":true}`)))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAuthGate_MissingHeaders(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/ingest",
		bytes.NewReader([]byte(`{}`)))
	w := f.do(req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "hmac_required", decodeBody(t, w)["reason"])
}

func TestAuthGate_UnknownKey(t *testing.T) {
	f := newServerFixture(t)

	req := f.signedRequest(http.MethodPost, "/api/v1/events/ingest", []byte(`{}`))
	req.Header.Set(HeaderEdgeKey, "ek_nope")
	w := f.do(req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", decodeBody(t, w)["reason"])
}

func TestAuthGate_BadSignature(t *testing.T) {
	f := newServerFixture(t)

	req := f.signedRequest(http.MethodPost, "/api/v1/events/ingest", []byte(`{}`))
	req.Header.Set(HeaderEdgeSignature, "deadbeef")
	w := f.do(req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_signature", decodeBody(t, w)["reason"])
}

func TestAuthGate_TamperedBody(t *testing.T) {
	f := newServerFixture(t)

	req := f.signedRequest(http.MethodPost, "/api/v1/events/ingest", []byte(`{}`))
	tampered := []byte(`{"x":1}`)
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.ContentLength = int64(len(tampered))
	w := f.do(req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_signature", decodeBody(t, w)["reason"])
}

func TestAuthGate_StaleTimestamp(t *testing.T) {
	f := newServerFixture(t)

	body := []byte(`{}`)
	path := "/api/v1/events/ingest"
	ts := f.clk.Now().Add(-10 * time.Minute).Unix()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(HeaderEdgeKey, f.edge.EdgeKey)
	req.Header.Set(HeaderEdgeTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderEdgeSignature, signature.Sign(http.MethodPost, path[1:], ts, body, f.secret))
	w := f.do(req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "timestamp_invalid", decodeBody(t, w)["reason"])
}

func TestAuthGate_NonceReplay(t *testing.T) {
	f := newServerFixture(t)

	body := []byte(`{"event_type":"test","severity":"info","occurred_at":"2025-06-01T11:59:00Z"}`)
	first := f.signedRequest(http.MethodPost, "/api/v1/events/ingest", body)
	first.Header.Set(HeaderEdgeNonce, "nonce-123")
	w := f.do(first)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	second := f.signedRequest(http.MethodPost, "/api/v1/events/ingest", body)
	second.Header.Set(HeaderEdgeNonce, "nonce-123")
	w = f.do(second)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "nonce_reused", decodeBody(t, w)["reason"])
}

func TestIngestEvent_Signed(t *testing.T) {
	f := newServerFixture(t)

	body := []byte(`{"event_type":"fire_detected","severity":"critical","occurred_at":"2025-06-01T11:58:00Z","camera_id":"CAM-9","meta":{"module":"fire"}}`)
	w := f.do(f.signedRequest(http.MethodPost, "/api/v1/events/ingest", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["ok"])
	assert.NotNil(t, resp["event_id"])
}

func TestIngestEvent_ModuleDisabled(t *testing.T) {
	f := newServerFixture(t)

	body := []byte(`{"event_type":"plate_read","severity":"info","occurred_at":"2025-06-01T11:58:00Z","meta":{"module":"vehicle"}}`)
	w := f.do(f.signedRequest(http.MethodPost, "/api/v1/events/ingest", body))

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "module_disabled", decodeBody(t, w)["error"])
}

func TestBatchIngest_PartialFailure(t *testing.T) {
	f := newServerFixture(t)

	body := []byte(`{"events":[
		{"event_type":"face_detected","severity":"info","occurred_at":"2025-06-01T11:58:00Z","meta":{"module":"face"}},
		{"event_type":"","severity":"info","occurred_at":"2025-06-01T11:58:00Z"},
		{"event_type":"fire_detected","severity":"warning","occurred_at":"2025-06-01T11:58:00Z","meta":{"module":"fire"}}
	]}`)
	w := f.do(f.signedRequest(http.MethodPost, "/api/v1/events/batch-ingest", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.EqualValues(t, 2, resp["created"])
	assert.EqualValues(t, 1, resp["failed"])

	errs, ok := resp["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]interface{})
	assert.EqualValues(t, 1, first["index"])
	assert.Equal(t, "validation_failed", first["error"])
}

func TestIngestEvent_ModuleDisabledWarnsOnceInWindow(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newServerFixtureWithLogger(t, zap.New(core))

	body := []byte(`{"event_type":"plate_read","severity":"info","occurred_at":"2025-06-01T11:58:00Z","meta":{"module":"vehicle"}}`)
	for i := 0; i < 3; i++ {
		w := f.do(f.signedRequest(http.MethodPost, "/api/v1/events/ingest", body))
		require.Equal(t, http.StatusForbidden, w.Code)
	}

	// The rejection is logged once per suppression window, however fast the
	// node retries.
	entries := logs.FilterMessage("event rejected: module not licensed").All()
	assert.Len(t, entries, 1)
}

func TestBatchIngest_MalformedOccurredAt(t *testing.T) {
	f := newServerFixture(t)

	body := []byte(`{"events":[
		{"event_type":"face_detected","severity":"info","occurred_at":"2025-06-01T11:58:00Z","meta":{"module":"face"}},
		{"event_type":"face_detected","severity":"info","occurred_at":"not-a-date","meta":{"module":"face"}}
	]}`)
	w := f.do(f.signedRequest(http.MethodPost, "/api/v1/events/batch-ingest", body))

	// The bad date falls back to the server clock instead of failing the
	// item or the payload.
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.EqualValues(t, 2, resp["created"])
	assert.EqualValues(t, 0, resp["failed"])

	var events []eventdomain.Event
	require.NoError(t, f.db.Find(&events).Error)
	require.Len(t, events, 2)
	fallbacks := 0
	for _, ev := range events {
		if ev.OccurredAt.Equal(f.clk.Now()) {
			fallbacks++
		}
	}
	assert.Equal(t, 1, fallbacks)
}

func TestBatchIngest_TooLarge(t *testing.T) {
	f := newServerFixture(t)

	events := make([]map[string]interface{}, 101)
	for i := range events {
		events[i] = map[string]interface{}{
			"event_type":  "face_detected",
			"severity":    "info",
			"occurred_at": "2025-06-01T11:58:00Z",
		}
	}
	body, err := json.Marshal(map[string]interface{}{"events": events})
	require.NoError(t, err)

	w := f.do(f.signedRequest(http.MethodPost, "/api/v1/events/batch-ingest", body))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestListCameras_MasksCredentials(t *testing.T) {
	f := newServerFixture(t)

	edgeID := f.edge.ID
	cam := cameradomain.Camera{
		ID:             f.genID.Generate(),
		OrganizationID: f.orgID,
		EdgeNodeID:     &edgeID,
		CameraID:       "CAM-MASK",
		Name:           "Till 4",
		RtspURL:        "rtsp://10.0.0.4/stream",
		Status:         cameradomain.StatusOnline,
		Config: datatypes.JSONMap{
			"username": "admin",
			"password": "hunter2",
		},
	}
	require.NoError(t, f.db.Create(&cam).Error)

	w := f.do(f.signedRequest(http.MethodGet, "/api/v1/edges/cameras", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.EqualValues(t, 1, resp["count"])

	cams := resp["cameras"].([]interface{})
	cfg := cams[0].(map[string]interface{})["config"].(map[string]interface{})
	assert.Equal(t, "admin", cfg["username"])
	assert.Equal(t, "***", cfg["password"])
}

func TestValidateLicense_Unsigned(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate",
		bytes.NewReader([]byte(`{"license_key":"LIC-SRV-1","edge_id":"EDGE-SRV-1"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, "EDGE-SRV-1", resp["edge_id"])
	assert.EqualValues(t, 14, resp["grace_days"])
}

func TestValidateLicense_UnknownKey(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate",
		bytes.NewReader([]byte(`{"license_key":"LIC-NOPE","edge_id":"EDGE-SRV-1"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["reason"])
}

func TestValidateLicense_SignedScopesToOrganization(t *testing.T) {
	f := newServerFixture(t)

	foreign := licensedomain.License{
		ID:             f.genID.Generate(),
		OrganizationID: f.genID.Generate(),
		LicenseKey:     "LIC-OTHER-ORG",
		Status:         licensedomain.StatusActive,
	}
	require.NoError(t, f.db.Create(&foreign).Error)

	body := []byte(`{"license_key":"LIC-OTHER-ORG","edge_id":"EDGE-SRV-1"}`)
	w := f.do(f.signedRequest(http.MethodPost, "/api/v1/licenses/validate", body))

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "organization_mismatch", decodeBody(t, w)["reason"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := f.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
}
