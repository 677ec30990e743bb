package score

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	engine := NewEngine(store, testLogger())
	weights := NewMemoryWeightStore()
	sweeper := NewSweeper(engine, store, DefaultRecoveryLadder, 24*time.Hour, time.Minute, testLogger())
	h := NewHandler(engine, weights, sweeper)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	admin := r.Group("/v1/admin")
	h.RegisterAdminRoutes(admin)
	return r, engine, store
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestGetScoreLazyInit(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, "GET", "/v1/drivers/driver-1/score", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "driver-1", status.UserID)
	assert.Equal(t, InitialScore, status.CurrentScore)
	assert.Equal(t, InitialScore, status.PreviousScore)
	assert.Equal(t, 100, status.Percentile)
}

func TestGetScoreAfterMutations(t *testing.T) {
	r, engine, _ := newTestRouter(t)

	mustApply(t, engine, Mutation{UserID: "driver-1", Type: EventIncidentReported, RequestedImpact: -10, ReportID: "rep-1"})
	mustApply(t, engine, Mutation{UserID: "driver-1", Type: EventDisputeResolved, RequestedImpact: 10, DisputeID: "disp-1"})

	w := doRequest(r, "GET", "/v1/drivers/driver-1/score", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 80, status.CurrentScore)
	assert.Equal(t, 70, status.PreviousScore)
	assert.Equal(t, 10, status.Change)
	assert.Equal(t, 1, status.IncidentCount)
	assert.Equal(t, 1, status.DisputesWon)
}

func TestGetScoreRejectsMalformedUserID(t *testing.T) {
	r, _, _ := newTestRouter(t)

	longID := strings.Repeat("a", 65)
	w := doRequest(r, "GET", "/v1/drivers/"+longID+"/score", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_user_id")
}

func TestGetHistoryPagination(t *testing.T) {
	r, engine, _ := newTestRouter(t)

	for i := 0; i < 5; i++ {
		mustApply(t, engine, Mutation{UserID: "driver-1", Type: EventIncidentReported, RequestedImpact: -1})
	}

	w := doRequest(r, "GET", "/v1/drivers/driver-1/score/history?limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		UserID string   `json:"userId"`
		Events []*Event `json:"events"`
		Limit  int      `json:"limit"`
		Offset int      `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "driver-1", body.UserID)
	assert.Len(t, body.Events, 2)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 1, body.Offset)
	// Newest first: offset 1 skips the most recent entry.
	assert.Equal(t, 76, body.Events[0].NewScore)
}

func TestGetBreakdown(t *testing.T) {
	r, engine, _ := newTestRouter(t)
	engine.SetDirectory(staticDirectory{"rep-1": "speeding", "rep-2": "red_light"})

	mustApply(t, engine, Mutation{UserID: "driver-1", Type: EventIncidentReported, RequestedImpact: -10, ReportID: "rep-1"})
	mustApply(t, engine, Mutation{UserID: "driver-1", Type: EventIncidentReported, RequestedImpact: -12, ReportID: "rep-2"})

	w := doRequest(r, "GET", "/v1/drivers/driver-1/score/breakdown", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Breakdown []*BreakdownEntry `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Breakdown, 2)
	assert.Equal(t, "red_light", body.Breakdown[0].IncidentType)
	assert.Equal(t, -12, body.Breakdown[0].TotalImpact)
}

func TestGetPercentile(t *testing.T) {
	r, engine, _ := newTestRouter(t)

	mustApply(t, engine, Mutation{UserID: "driver-low", Type: EventIncidentReported, RequestedImpact: -20})

	w := doRequest(r, "GET", "/v1/drivers/driver-high/score/percentile", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		UserID     string `json:"userId"`
		Percentile int    `json:"percentile"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 100, body.Percentile)
}

func TestListWeights(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, "GET", "/v1/incident-weights", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Weights []*IncidentWeight `json:"weights"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Weights, len(DefaultWeights()))
}

func TestUpsertWeight(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, "PUT", "/v1/admin/incident-weights/street_racing",
		`{"basePenalty": 25, "severityMultiplier": 1.5}`)
	require.Equal(t, http.StatusOK, w.Code)

	list := doRequest(r, "GET", "/v1/incident-weights", "")
	assert.Contains(t, list.Body.String(), "street_racing")
}

func TestUpsertWeightRejectsBadSlug(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, "PUT", "/v1/admin/incident-weights/Street-Racing", `{"basePenalty": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_incident_type")
}

func TestRunRecoveryEndpoint(t *testing.T) {
	r, engine, store := newTestRouter(t)

	seedIncident(t, engine, store, "driver-1", time.Now().Add(-10*24*time.Hour), -10)

	w := doRequest(r, "POST", "/v1/admin/drivers/driver-1/recovery", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"credited":true`)

	// Second trigger inside the window conflicts.
	w = doRequest(r, "POST", "/v1/admin/drivers/driver-1/recovery", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already_credited")
}

func TestRunRecoveryUnknownDriver(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doRequest(r, "POST", "/v1/admin/drivers/never-seen/recovery", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "user_not_found")
}

func TestRunSweepEndpoint(t *testing.T) {
	r, engine, store := newTestRouter(t)

	seedIncident(t, engine, store, "driver-1", time.Now().Add(-40*24*time.Hour), -10)

	w := doRequest(r, "POST", "/v1/admin/recovery/sweep", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sweep SweepResult `json:"sweep"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Sweep.Credited)
	assert.Equal(t, 2, body.Sweep.Points)
}

func TestGetMilestones(t *testing.T) {
	r, engine, store := newTestRouter(t)
	engine.SetDetector(newTestDetector(store))

	mustApply(t, engine, Mutation{UserID: "driver-1", Type: EventDisputeResolved, RequestedImpact: 15})

	w := doRequest(r, "GET", "/v1/drivers/driver-1/milestones", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MilestoneScoreReached)
}
