package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccall48/lorawan-analyzer/internal/broadcast"
	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
)

// fakeStore records calls and returns canned rows. Methods the tests do
// not exercise panic through the embedded nil interface.
type fakeStore struct {
	storage.Store

	activity     []*models.GatewayActivity
	lastHide     []models.HideRule
	gateway      *models.Gateway
	gatewayErr   error
	updatedMeta  map[string]*string
	updatedGWID  string
	profile      *models.DeviceProfile
	profileErr   error
	profileAddr  string
	packets      []*models.ParsedPacket
	lastQuery    storage.PacketQuery
	joins        []*models.ParsedPacket
	csDevices    []*models.CsDevice
	csTotal      int64
	csPackets    []*models.CsPacket
	csPacketsEUI string
	customOps    []*models.CustomOperator
	createdOp    *models.CustomOperator
	deletedOpID  int64
	hideRows     []*models.HideRule
	createdHide  *models.HideRule
	deletedHide  int64
	series       []models.TimeSeriesPoint
	lastTSQuery  storage.TimeSeriesQuery
}

func (f *fakeStore) GatewayActivity(ctx context.Context, since time.Time, hide []models.HideRule) ([]*models.GatewayActivity, error) {
	f.lastHide = hide
	return f.activity, nil
}

func (f *fakeStore) GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error) {
	if f.gatewayErr != nil {
		return nil, f.gatewayErr
	}
	return f.gateway, nil
}

func (f *fakeStore) UpdateGatewayMeta(ctx context.Context, gatewayID string, name, alias, group *string) error {
	f.updatedGWID = gatewayID
	f.updatedMeta = map[string]*string{"name": name, "alias": alias, "group": group}
	return nil
}

func (f *fakeStore) DeviceProfile(ctx context.Context, devAddr string, since time.Time) (*models.DeviceProfile, error) {
	f.profileAddr = devAddr
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeStore) RecentPackets(ctx context.Context, q storage.PacketQuery) ([]*models.ParsedPacket, error) {
	f.lastQuery = q
	return f.packets, nil
}

func (f *fakeStore) RecentJoins(ctx context.Context, since time.Time, limit int) ([]*models.ParsedPacket, error) {
	return f.joins, nil
}

func (f *fakeStore) ListCsDevices(ctx context.Context, limit, offset int) ([]*models.CsDevice, int64, error) {
	return f.csDevices, f.csTotal, nil
}

func (f *fakeStore) RecentCsPackets(ctx context.Context, devEUI string, limit int) ([]*models.CsPacket, error) {
	f.csPacketsEUI = devEUI
	return f.csPackets, nil
}

func (f *fakeStore) TimeSeries(ctx context.Context, q storage.TimeSeriesQuery) ([]models.TimeSeriesPoint, error) {
	f.lastTSQuery = q
	return f.series, nil
}

func (f *fakeStore) CreateCustomOperator(ctx context.Context, op *models.CustomOperator) error {
	if op.Name == "" {
		return storage.ErrInvalidData
	}
	if _, _, _, err := operators.ParsePrefix(op.Prefix); err != nil {
		return storage.ErrInvalidData
	}
	if op.Priority == 0 {
		op.Priority = 100
	}
	op.ID = 7
	op.CreatedAt = time.Now()
	f.createdOp = op
	f.customOps = append(f.customOps, op)
	return nil
}

func (f *fakeStore) ListCustomOperators(ctx context.Context) ([]*models.CustomOperator, error) {
	return f.customOps, nil
}

func (f *fakeStore) DeleteCustomOperator(ctx context.Context, id int64) error {
	f.deletedOpID = id
	for i, op := range f.customOps {
		if op.ID == id {
			f.customOps = append(f.customOps[:i], f.customOps[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) CreateHideRule(ctx context.Context, rule *models.HideRule) error {
	if rule.Type != models.HideRuleDevAddr && rule.Type != models.HideRuleJoinEUI {
		return storage.ErrInvalidData
	}
	rule.ID = 3
	rule.CreatedAt = time.Now()
	f.createdHide = rule
	f.hideRows = append(f.hideRows, rule)
	return nil
}

func (f *fakeStore) ListHideRules(ctx context.Context) ([]*models.HideRule, error) {
	return f.hideRows, nil
}

func (f *fakeStore) DeleteHideRule(ctx context.Context, id int64) error {
	f.deletedHide = id
	for i, rule := range f.hideRows {
		if rule.ID == id {
			f.hideRows = append(f.hideRows[:i], f.hideRows[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakeStore) {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{}
	}

	rules, colors, err := operators.BuildRules(nil, nil)
	require.NoError(t, err)
	matcher := operators.NewMatcher(rules, colors)

	b := broadcast.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(cancel)

	fake := &fakeStore{}
	return New(cfg, fake, matcher, b, zerolog.Nop()), fake
}

func doRequest(t *testing.T, srv *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestListGatewaysAndTree(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.activity = []*models.GatewayActivity{
		{Gateway: models.Gateway{GatewayID: "aa11223344556677", GroupName: "north"}, PacketCount: 120, AirtimeUS: 900000, UniqueDevices: 4},
		{Gateway: models.Gateway{GatewayID: "bb11223344556677", GroupName: "north"}, PacketCount: 40, AirtimeUS: 100000, UniqueDevices: 2},
		{Gateway: models.Gateway{GatewayID: "cc11223344556677"}, PacketCount: 11, AirtimeUS: 50000, UniqueDevices: 1},
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/gateways?since=1h", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Gateways []*models.GatewayActivity `json:"gateways"`
		Count    int                       `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 3, list.Count)
	assert.Len(t, list.Gateways, 3)

	rec = doRequest(t, srv, http.MethodGet, "/api/gateways/tree", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tree struct {
		Groups []struct {
			Name        string                    `json:"name"`
			Gateways    []*models.GatewayActivity `json:"gateways"`
			PacketCount int64                     `json:"packetCount"`
		} `json:"groups"`
	}
	decodeBody(t, rec, &tree)
	require.Len(t, tree.Groups, 2)

	// alphabetical: north before ungrouped
	assert.Equal(t, "north", tree.Groups[0].Name)
	assert.Len(t, tree.Groups[0].Gateways, 2)
	assert.Equal(t, int64(160), tree.Groups[0].PacketCount)
	assert.Equal(t, "ungrouped", tree.Groups[1].Name)
}

func TestGetGatewayNotFound(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.gatewayErr = storage.ErrNotFound

	rec := doRequest(t, srv, http.MethodGet, "/api/gateways/aa11223344556677", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "gateway not found", body["error"])
}

func TestUpdateGatewayMeta(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.gateway = &models.Gateway{GatewayID: "aa11223344556677", Alias: "rooftop"}

	rec := doRequest(t, srv, http.MethodPut, "/api/gateways/AA11223344556677",
		`{"alias":"rooftop","group":"north"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "aa11223344556677", fake.updatedGWID)
	assert.Nil(t, fake.updatedMeta["name"])
	require.NotNil(t, fake.updatedMeta["alias"])
	assert.Equal(t, "rooftop", *fake.updatedMeta["alias"])
	require.NotNil(t, fake.updatedMeta["group"])
	assert.Equal(t, "north", *fake.updatedMeta["group"])
}

func TestDeviceProfileValidatesAddr(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.profile = &models.DeviceProfile{DevAddr: "26011AAB", Operator: "The Things Network"}

	rec := doRequest(t, srv, http.MethodGet, "/api/devices/xyz", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/devices/26011aab", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "26011AAB", fake.profileAddr)
}

func TestDeviceProfileNotFound(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.profileErr = storage.ErrNotFound

	rec := doRequest(t, srv, http.MethodGet, "/api/devices/26011AAB", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceTimelineDefaults(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/devices/26011aab/timeline", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "26011AAB", fake.lastQuery.DevAddr)
	assert.Equal(t, 200, fake.lastQuery.Limit)
}

func TestRecentPacketsQueryParsing(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet,
		"/api/packets/recent?gateway=AA11223344556677&dev_addr=26011aab&types=data,join_request&rssi_min=-100&prefix=26000000/7&limit=5000",
		"", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	q := fake.lastQuery
	assert.Equal(t, "aa11223344556677", q.GatewayID)
	assert.Equal(t, "26011AAB", q.DevAddr)
	assert.Equal(t, []models.PacketType{models.PacketData, models.PacketJoinRequest}, q.Types)
	require.NotNil(t, q.RSSIMin)
	assert.Equal(t, -100, *q.RSSIMin)
	assert.Nil(t, q.RSSIMax)
	require.NotNil(t, q.Prefix)
	assert.Equal(t, uint32(0x26000000), q.Prefix.Prefix)
	assert.Equal(t, uint32(0xFE000000), q.Prefix.Mask)
	assert.Equal(t, 1000, q.Limit, "limit is clamped")
}

func TestRecentPacketsRejectsBadParams(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/packets/recent?rssi_min=low", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/packets/recent?prefix=zz/40", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeSeriesParams(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/stats/timeseries?metric=airtime&group=operator&bucket=15m", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.MetricAirtime, fake.lastTSQuery.Metric)
	assert.Equal(t, storage.GroupOperator, fake.lastTSQuery.GroupBy)
	assert.Equal(t, 15*time.Minute, fake.lastTSQuery.Bucket)

	rec = doRequest(t, srv, http.MethodGet, "/api/stats/timeseries?metric=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/stats/timeseries?group=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/stats/timeseries?bucket=10s", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndDeleteOperatorReloadsMatcher(t *testing.T) {
	srv, fake := newTestServer(t, nil)

	// unmatched block resolves to Unknown before the rule exists
	require.Equal(t, "Unknown", srv.matcher.MatchDevAddrHex("FD001122"))

	rec := doRequest(t, srv, http.MethodPost, "/api/operators",
		`{"name":"Acme Farms","prefix":"FD000000/8","color":"#ff8800"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.CustomOperator
	decodeBody(t, rec, &created)
	assert.Equal(t, int64(7), created.ID)
	assert.Equal(t, 100, created.Priority)

	assert.Equal(t, "Acme Farms", srv.matcher.MatchDevAddrHex("FD001122"))

	rec = doRequest(t, srv, http.MethodDelete, "/api/operators/7", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(7), fake.deletedOpID)

	assert.Equal(t, "Unknown", srv.matcher.MatchDevAddrHex("FD001122"))
}

func TestCreateOperatorRejectsBadPrefix(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/operators",
		`{"name":"Bad","prefix":"not-hex/99"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteOperatorNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodDelete, "/api/operators/99", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodDelete, "/api/operators/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOperators(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.customOps = []*models.CustomOperator{
		{ID: 1, Name: "Acme Farms", Prefix: "FD000000/8", Priority: 100},
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/operators", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rules  []models.OperatorRule    `json:"rules"`
		Custom []*models.CustomOperator `json:"custom"`
	}
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body.Rules, "built-in table is always present")
	require.Len(t, body.Custom, 1)
	assert.Equal(t, "Acme Farms", body.Custom[0].Name)
}

func TestAuthGatingAndLogin(t *testing.T) {
	cfg := &config.Config{}
	cfg.API.JWTSecret = "s3cret"
	cfg.API.AdminPassword = "hunter2"
	srv, _ := newTestServer(t, cfg)

	// mutating endpoint is gated
	rec := doRequest(t, srv, http.MethodPost, "/api/operators",
		`{"name":"Acme","prefix":"FD000000/8"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// reads stay open
	rec = doRequest(t, srv, http.MethodGet, "/api/operators", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/auth/login", `{"password":"wrong"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/auth/login", `{"password":"hunter2"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var login struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	decodeBody(t, rec, &login)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, 86400, login.ExpiresIn)

	rec = doRequest(t, srv, http.MethodPost, "/api/operators",
		`{"name":"Acme","prefix":"FD000000/8"}`,
		map[string]string{"Authorization": "Bearer " + login.Token})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/operators",
		`{"name":"Acme","prefix":"FD000000/8"}`,
		map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMutationsOpenWithoutSecret(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/operators",
		`{"name":"Acme","prefix":"FD000000/8"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// login has nothing to issue
	rec = doRequest(t, srv, http.MethodPost, "/api/auth/login", `{"password":"x"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHideRuleLifecycle(t *testing.T) {
	cfg := &config.Config{
		HideRules: []config.HideRuleConfig{
			{Type: "dev_addr", Prefix: "fe00/16", Description: "lab traffic"},
		},
	}
	srv, fake := newTestServer(t, cfg)

	// config rules apply before any persisted ones exist
	rec := doRequest(t, srv, http.MethodGet, "/api/packets/recent", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.lastQuery.Hide, 1)
	assert.Equal(t, "FE00/16", fake.lastQuery.Hide[0].Prefix)

	rec = doRequest(t, srv, http.MethodPost, "/api/hiderules",
		`{"type":"join_eui","prefix":"70B3","description":"ttn devices"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/packets/recent", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.lastQuery.Hide, 2)
	assert.Equal(t, models.HideRuleJoinEUI, fake.lastQuery.Hide[1].Type)

	rec = doRequest(t, srv, http.MethodDelete, "/api/hiderules/3", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(3), fake.deletedHide)

	rec = doRequest(t, srv, http.MethodGet, "/api/packets/recent", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, fake.lastQuery.Hide, 1)
}

func TestCreateHideRuleRejectsBadType(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/hiderules",
		`{"type":"frequency","prefix":"86"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinsHiddenByRule(t *testing.T) {
	cfg := &config.Config{
		HideRules: []config.HideRuleConfig{
			{Type: "join_eui", Prefix: "70b3"},
		},
	}
	srv, fake := newTestServer(t, cfg)
	fake.joins = []*models.ParsedPacket{
		{Type: models.PacketJoinRequest, JoinEUI: "70B3D57ED0000001", DevEUI: "0000000000000001"},
		{Type: models.PacketJoinRequest, JoinEUI: "AABBCCDD00000001", DevEUI: "0000000000000002"},
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/joins", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Joins []*models.ParsedPacket `json:"joins"`
		Count int                    `json:"count"`
	}
	decodeBody(t, rec, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "AABBCCDD00000001", body.Joins[0].JoinEUI)
}

func TestCsDeviceEndpoints(t *testing.T) {
	srv, fake := newTestServer(t, nil)
	fake.csDevices = []*models.CsDevice{
		{DevEUI: "0102030405060708", DeviceName: "parking-sensor-7"},
	}
	fake.csTotal = 1

	rec := doRequest(t, srv, http.MethodGet, "/api/cs/devices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Devices []*models.CsDevice `json:"devices"`
		Total   int64              `json:"total"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Devices, 1)

	rec = doRequest(t, srv, http.MethodGet, "/api/cs/devices/0102030405060708/packets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0102030405060708", fake.csPacketsEUI)

	rec = doRequest(t, srv, http.MethodGet, "/api/cs/devices/nope/packets", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
