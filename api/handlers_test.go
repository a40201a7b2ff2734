package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcbaptista/go-track-reconciler/config"
	"github.com/gcbaptista/go-track-reconciler/internal/engine"
	"github.com/gcbaptista/go-track-reconciler/model"
	"github.com/gcbaptista/go-track-reconciler/services"
	"github.com/gcbaptista/go-track-reconciler/store"
)

func setupTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.NewEngine(config.Default(), store.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func setupTestRouter(eng *engine.Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	SetupRoutes(router, eng)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
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
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func seedHTTP(t *testing.T, router *gin.Engine) {
	t.Helper()
	w := doRequest(t, router, http.MethodPut, "/library", []model.LibraryFile{
		{Path: "/music/Tarkan - Dudu.m4a"},
		{Path: "/music/Tarkan - Kis Masali.m4a"},
		{Path: "/music/a.mp3"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, router, http.MethodPut, "/references", []model.Reference{
		{Path: "/music/a.mp3", SourceKind: model.SourcePlaylist},
		{Path: "/old/Tarkan - Duduu.mp3", SourceKind: model.SourceHistory},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func waitForJobHTTP(t *testing.T, router *gin.Engine, jobID string) model.Job {
	t.Helper()
	var job model.Job
	require.Eventually(t, func() bool {
		w := doRequest(t, router, http.MethodGet, "/jobs/"+jobID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status == model.JobStatusCompleted || job.Status == model.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestHealthCheckHandler(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))

	w := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]interface{}](t, w)["status"])
}

func TestAddLibraryFilesHandler(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedCode   ErrorCode
		expectedCount  int
	}{
		{"single object", model.LibraryFile{Path: "/music/One.mp3"}, http.StatusOK, "", 1},
		{"array", []model.LibraryFile{{Path: "/music/Two.mp3"}, {Path: "/music/Three.flac"}}, http.StatusOK, "", 2},
		{"invalid JSON", "{not json", http.StatusBadRequest, ErrorCodeInvalidJSON, 0},
		{"missing path", []model.LibraryFile{{FileName: "x.mp3"}}, http.StatusBadRequest, ErrorCodeValidationFailed, 0},
		{"empty array", []model.LibraryFile{}, http.StatusBadRequest, ErrorCodeValidationFailed, 0},
		{"duplicate paths", []model.LibraryFile{{Path: "/a.mp3"}, {Path: "/a.mp3"}}, http.StatusBadRequest, ErrorCodeValidationFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPut, "/library", tt.body)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decode[APIError](t, w).Code)
				return
			}
			resp := decode[struct {
				Count int                 `json:"count"`
				Files []model.LibraryFile `json:"files"`
			}](t, w)
			assert.Equal(t, tt.expectedCount, resp.Count)
			for _, f := range resp.Files {
				assert.NotZero(t, f.ID)
				assert.NotEmpty(t, f.NormalizedName)
			}
		})
	}
}

func TestLibraryFileHandlers_GetAndDelete(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))
	seedHTTP(t, router)

	w := doRequest(t, router, http.MethodGet, "/library/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tarkan dudu", decode[model.LibraryFile](t, w).NormalizedName)

	w = doRequest(t, router, http.MethodGet, "/library/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrorCodeValidationFailed, decode[APIError](t, w).Code)

	w = doRequest(t, router, http.MethodDelete, "/library/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodGet, "/library/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorCodeEntityNotFound, decode[APIError](t, w).Code)

	w = doRequest(t, router, http.MethodDelete, "/library/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReferenceHandlers(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))
	seedHTTP(t, router)

	w := doRequest(t, router, http.MethodPut, "/references", model.Reference{Path: "/x.mp3", SourceKind: "radio"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decode[APIError](t, w)
	assert.Equal(t, ErrorCodeValidationFailed, apiErr.Code)
	require.Len(t, apiErr.Details, 1)
	assert.Equal(t, "references[0].source_kind", apiErr.Details[0].Field)

	w = doRequest(t, router, http.MethodGet, "/references/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ref := decode[model.Reference](t, w)
	assert.Equal(t, model.SourceHistory, ref.SourceKind)
	assert.False(t, ref.Matched)

	w = doRequest(t, router, http.MethodDelete, "/references/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, router, http.MethodGet, "/references/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFindByNameHandler(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))
	seedHTTP(t, router)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedTotal  int
	}{
		{"library fragment", "/library?contains=Tarkan", http.StatusOK, 2},
		{"library with limit", "/library?contains=tarkan&limit=1", http.StatusOK, 1},
		{"references fragment", "/references?contains=duduu", http.StatusOK, 1},
		{"no match", "/references?contains=masali", http.StatusOK, 0},
		{"missing fragment", "/library", http.StatusBadRequest, 0},
		{"bad limit", "/library?contains=tarkan&limit=x", http.StatusBadRequest, 0},
		{"fragment without letters", "/library?contains=---", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if w.Code != http.StatusOK {
				assert.Equal(t, ErrorCodeValidationFailed, decode[APIError](t, w).Code)
				return
			}
			resp := decode[struct {
				Entities []store.NamedEntity `json:"entities"`
				Total    int                 `json:"total"`
			}](t, w)
			assert.Equal(t, tt.expectedTotal, resp.Total)
			assert.Len(t, resp.Entities, tt.expectedTotal)
		})
	}
}

func TestSearchHandler(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))
	seedHTTP(t, router)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		minTotal       int
		firstFileName  string
	}{
		{"tarkan dudu", SearchRequest{Query: "tarkan dudu", Scope: services.ScopeLibrary}, http.StatusOK, 1, "Tarkan - Dudu.m4a"},
		{"empty query", SearchRequest{Query: ""}, http.StatusOK, 0, ""},
		{"no match", SearchRequest{Query: "zzzz qqqq"}, http.StatusOK, 0, ""},
		{"invalid scope", SearchRequest{Query: "tarkan", Scope: "everything"}, http.StatusBadRequest, 0, ""},
		{"invalid threshold", SearchRequest{Query: "tarkan", FuzzyThreshold: 3}, http.StatusBadRequest, 0, ""},
		{"negative offset", SearchRequest{Query: "tarkan", Offset: -1}, http.StatusBadRequest, 0, ""},
		{"invalid JSON", "{", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/search", tt.body)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if w.Code != http.StatusOK {
				return
			}
			res := decode[services.SearchResult](t, w)
			assert.GreaterOrEqual(t, res.Total, tt.minTotal)
			if tt.minTotal == 0 {
				assert.Empty(t, res.Hits)
			}
			if tt.firstFileName != "" {
				require.NotEmpty(t, res.Hits)
				assert.Equal(t, tt.firstFileName, res.Hits[0].FileName)
			}
		})
	}
}

func TestMultiSearchHandler(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))
	seedHTTP(t, router)

	w := doRequest(t, router, http.MethodPost, "/multi_search", MultiSearchRequest{Queries: []NamedSearchRequest{
		{Name: "dudu", SearchRequest: SearchRequest{Query: "dudu"}},
		{Name: "masali", SearchRequest: SearchRequest{Query: "masali", Scope: services.ScopeLibrary}},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[services.MultiSearchResult](t, w)
	assert.Equal(t, 2, res.TotalQueries)
	assert.Equal(t, 1, res.Results["masali"].Total)

	w = doRequest(t, router, http.MethodPost, "/multi_search", MultiSearchRequest{Queries: []NamedSearchRequest{
		{Name: "same", SearchRequest: SearchRequest{Query: "a"}},
		{Name: "same", SearchRequest: SearchRequest{Query: "b"}},
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMatchingHandlers(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))
	seedHTTP(t, router)

	w := doRequest(t, router, http.MethodPost, "/matching/_run", MatchRequest{FuzzyThreshold: 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/matching/_run", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	jobID := decode[map[string]interface{}](t, w)["job_id"].(string)

	job := waitForJobHTTP(t, router, jobID)
	require.Equal(t, model.JobStatusCompleted, job.Status, job.Error)
	assert.Equal(t, model.JobTypeMatching, job.Type)

	w = doRequest(t, router, http.MethodGet, "/matching/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[model.MatchStatistics](t, w)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 100.0, stats.MatchRate)

	w = doRequest(t, router, http.MethodGet, "/references/1", nil)
	ref := decode[model.Reference](t, w)
	assert.Equal(t, model.StageExactPath, ref.MatchStage)
}

func TestIndexHandlers(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))
	seedHTTP(t, router)

	w := doRequest(t, router, http.MethodPost, "/index/_rebuild", RebuildRequest{Resume: true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := waitForJobHTTP(t, router, decode[map[string]interface{}](t, w)["job_id"].(string))
	assert.Equal(t, model.JobStatusCompleted, job.Status, job.Error)
	assert.Equal(t, "true", job.Metadata["resume"])

	w = doRequest(t, router, http.MethodPost, "/index/_repair", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	job = waitForJobHTTP(t, router, decode[map[string]interface{}](t, w)["job_id"].(string))
	assert.Equal(t, model.JobTypeRepairIndex, job.Type)

	w = doRequest(t, router, http.MethodPost, "/index/_rebuild", "{bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobHandlers(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))

	w := doRequest(t, router, http.MethodGet, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorCodeJobNotFound, decode[APIError](t, w).Code)

	w = doRequest(t, router, http.MethodPost, "/jobs/missing/_cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodGet, "/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/index/_repair", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode[map[string]interface{}](t, w)["job_id"].(string)
	waitForJobHTTP(t, router, jobID)

	w = doRequest(t, router, http.MethodGet, "/jobs?scope=all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode[map[string]interface{}](t, w)["total"])

	w = doRequest(t, router, http.MethodPost, "/jobs/"+jobID+"/_cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodGet, "/jobs/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]interface{}](t, w), "metrics")
}

func TestRequestIDMiddleware(t *testing.T) {
	router := setupTestRouter(setupTestEngine(t))

	req, err := http.NewRequest(http.MethodGet, "/library/999", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
	assert.Equal(t, "req-123", decode[APIError](t, w).RequestID)

	w = doRequest(t, router, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestMiddleware_CORSAndSizeLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware(), RequestSizeLimitMiddleware(64))
	SetupRoutes(router, setupTestEngine(t))

	w := doRequest(t, router, http.MethodOptions, "/search", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	big := make([]model.LibraryFile, 10)
	for i := range big {
		big[i] = model.LibraryFile{Path: "/music/some/long/directory/name/track.mp3"}
	}
	w = doRequest(t, router, http.MethodPut, "/library", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
