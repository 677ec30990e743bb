package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Pipeline) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p, _, _ := newTestPipeline()
	h := NewHandler(p)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	admin := r.Group("/v1/admin")
	h.RegisterAdminRoutes(admin)
	return r, p
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

func TestSubmitReportEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, "POST", "/v1/reports",
		`{"reporterId":"reporter-1","reportedUserId":"driver-1","incidentType":"speeding","description":"ran the on-ramp shoulder"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Report Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusScored, body.Report.Status)
	assert.Equal(t, -10, body.Report.PenaltyApplied)
	assert.NotEmpty(t, body.Report.ID)
}

func TestSubmitReportEndpointValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, "POST", "/v1/reports", `{"reporterId":"reporter-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, "POST", "/v1/reports",
		`{"reporterId":"reporter-1","reportedUserId":"driver-1","incidentType":"jaywalking"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_incident_type")

	w = doRequest(r, "POST", "/v1/reports",
		`{"reporterId":"bad id!","reportedUserId":"driver-1","incidentType":"speeding"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_user_id")
}

func TestDisputeFlowEndpoints(t *testing.T) {
	r, p := newTestRouter(t)

	w := doRequest(r, "POST", "/v1/reports",
		`{"reporterId":"reporter-1","reportedUserId":"driver-1","incidentType":"red_light"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Report Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doRequest(r, "POST", "/v1/reports/"+created.Report.ID+"/disputes",
		`{"userId":"driver-1","reason":"light was green"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var opened struct {
		Dispute Dispute `json:"dispute"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))
	assert.Equal(t, DisputeOpen, opened.Dispute.Status)

	w = doRequest(r, "POST", "/v1/admin/disputes/"+opened.Dispute.ID+"/resolve",
		`{"overturned":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(DisputeOverturned))

	report, err := p.GetReport(context.Background(), created.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOverturned, report.Status)
}

func TestDisputeWrongDriverForbidden(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, "POST", "/v1/reports",
		`{"reporterId":"reporter-1","reportedUserId":"driver-1","incidentType":"speeding"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Report Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doRequest(r, "POST", "/v1/reports/"+created.Report.ID+"/disputes", `{"userId":"driver-2"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReportsForUserEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		w := doRequest(r, "POST", "/v1/reports",
			`{"reporterId":"reporter-1","reportedUserId":"driver-1","incidentType":"tailgating"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doRequest(r, "GET", "/v1/drivers/driver-1/reports", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Reports []*Report `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Reports, 3)
}
