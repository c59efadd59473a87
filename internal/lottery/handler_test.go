package lottery_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jswmusik/jobbeli/internal/lottery"
	"github.com/jswmusik/jobbeli/internal/middleware"
	"github.com/jswmusik/jobbeli/internal/model"
	"github.com/jswmusik/jobbeli/internal/store"
)

func newServer(t *testing.T, m *store.MemoryStore, limit func(http.Handler) http.Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	lottery.NewHandler(lottery.NewService(m, lottery.WithClock(clock)), limit).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, user, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("x-user-id", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandler_RunLottery(t *testing.T) {
	srv := newServer(t, fixture(t, []int{1, 1}, 3), nil)

	resp := do(t, http.MethodPost, srv.URL+"/groups/g1/run-lottery", "admin", `{"seed": 42}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res lottery.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, model.RunCompleted, res.Status)
	assert.Equal(t, int64(42), res.Seed)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Reserves)
	assert.NotEmpty(t, res.RunID)

	resp = do(t, http.MethodGet, srv.URL+"/lottery-runs/"+res.RunID, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run model.LotteryRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, "admin", run.ExecutedBy)
	assert.Equal(t, res.Digest, run.ReportDigest)

	var report map[string]any
	require.NoError(t, json.Unmarshal(run.AuditReport, &report))
	assert.Equal(t, "lottery.audit/v1", report["schema"])

	resp = do(t, http.MethodGet, srv.URL+"/lottery-runs?group=g1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []model.LotteryRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestHandler_RunLotteryWithoutBody(t *testing.T) {
	srv := newServer(t, fixture(t, []int{1}, 1), nil)
	resp := do(t, http.MethodPost, srv.URL+"/groups/g1/run-lottery", "admin", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_Errors(t *testing.T) {
	srv := newServer(t, fixture(t, []int{1}, 1), nil)

	cases := []struct {
		name, method, path, user, body string
		want                           int
	}{
		{"missing user", http.MethodPost, "/groups/g1/run-lottery", "", "", http.StatusUnauthorized},
		{"bad body", http.MethodPost, "/groups/g1/run-lottery", "admin", `{"seed": "x"}`, http.StatusBadRequest},
		{"negative seed", http.MethodPost, "/groups/g1/run-lottery", "admin", `{"seed": -3}`, http.StatusBadRequest},
		{"unknown group", http.MethodPost, "/groups/nope/run-lottery", "admin", "", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/groups/g1/run-lottery", "admin", "", http.StatusMethodNotAllowed},
		{"unknown action", http.MethodGet, "/groups/g1/explode", "", "", http.StatusNotFound},
		{"bad path", http.MethodGet, "/groups/g1", "", "", http.StatusNotFound},
		{"unknown run", http.MethodGet, "/lottery-runs/missing", "", "", http.StatusNotFound},
		{"runs wrong method", http.MethodDelete, "/lottery-runs", "", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, tc.method, srv.URL+tc.path, tc.user, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandler_ConcurrentRunConflict(t *testing.T) {
	bs := &blockingStore{
		MemoryStore: fixture(t, []int{1}, 2),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	mux := http.NewServeMux()
	lottery.NewHandler(lottery.NewService(bs, lottery.WithClock(clock)), nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	first := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/groups/g1/run-lottery", nil)
		req.Header.Set("x-user-id", "admin")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-bs.entered

	resp := do(t, http.MethodPost, srv.URL+"/groups/g1/run-lottery", "admin", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(bs.release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestHandler_FailedRunReportsRunID(t *testing.T) {
	m := fixture(t, []int{1}, 2)
	srv := newServer(t, m, nil)
	m.FailNextCommit(assert.AnError)

	resp := do(t, http.MethodPost, srv.URL+"/groups/g1/run-lottery", "admin", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "FAILED", body["status"])
	require.NotEmpty(t, body["run_id"])

	resp = do(t, http.MethodGet, srv.URL+"/lottery-runs/"+body["run_id"], "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_Preview(t *testing.T) {
	srv := newServer(t, fixture(t, []int{2, 3}, 4), nil)

	resp := do(t, http.MethodGet, srv.URL+"/groups/g1/preview", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p lottery.Preview
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, 5, p.TotalSpots)
	assert.Equal(t, 4, p.UniqueApplicants)
	assert.True(t, p.CanRun)
}

func TestHandler_RunLotteryIsRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(0.001, 1)
	srv := newServer(t, fixture(t, []int{1}, 1), limiter.Middleware)

	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/groups/g1/run-lottery", "admin", "").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodPost, srv.URL+"/groups/g1/run-lottery", "admin", "").StatusCode)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/groups/g1/preview", "admin", "").StatusCode)
}
