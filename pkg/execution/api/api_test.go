package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/cache"
	"github.com/cxeteam/cxe/pkg/execution/queue"
	"github.com/cxeteam/cxe/pkg/execution/types"
	"github.com/stretchr/testify/require"
)

type fakeWorkers struct{ n int }

func (f fakeWorkers) ActiveWorkers() int { return f.n }

type fakeLanguages struct{ supported map[string]bool }

func (f fakeLanguages) Supports(name string) bool { return f.supported[name] }

func newTestServer(t *testing.T) (*Server, *queue.Queue, cache.StatusCache) {
	t.Helper()
	q := queue.New()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	languages := fakeLanguages{supported: map[string]bool{"python": true, "go": true}}
	return NewServer(q, c, fakeWorkers{n: 2}, languages, time.Hour, nil), q, c
}

func TestHandleSubmit_EnqueuesAndReturns202(t *testing.T) {
	s, q, c := newTestServer(t)
	body := bytes.NewBufferString(`{
		"userId": "u1",
		"questionId": "q1",
		"language": "python",
		"code": "def add(a, b):\n    return a + b\n",
		"metadata": {"functionName": "add", "returnType": "int", "parameters": [{"name":"a","type":"int"},{"name":"b","type":"int"}]},
		"testCases": [{"input": {"a": 1, "b": 2}}]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/execution/submit", body)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SubmissionID)
	require.Equal(t, "QUEUED", resp.Status)
	require.Equal(t, 1, q.Size())

	record, err := c.Get(context.Background(), resp.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusQueued, record.Status)
}

func TestHandleSubmit_RejectsMissingFields(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/execution/submit", bytes.NewBufferString(`{"userId":"u1"}`))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmit_RejectsUnsupportedLanguage(t *testing.T) {
	s, q, _ := newTestServer(t)
	body := bytes.NewBufferString(`{"userId":"u1","questionId":"q1","language":"cobol","code":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/execution/submit", body)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, q.Size())
}

func TestHandleSubmit_DuplicateSubmissionIDRejected(t *testing.T) {
	s, _, c := newTestServer(t)
	require.NoError(t, c.Put(context.Background(), "dup-1", &types.StatusRecord{
		SubmissionID: "dup-1", Status: types.StatusQueued, QueuedAt: time.Now(),
	}, time.Hour))

	body := bytes.NewBufferString(`{"submissionId":"dup-1","userId":"u1","questionId":"q1","language":"python","code":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/execution/submit", body)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleStatus_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/execution/status/missing", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatus_InjectsLiveQueuePosition(t *testing.T) {
	s, q, c := newTestServer(t)
	require.NoError(t, c.Put(context.Background(), "sub-a", &types.StatusRecord{
		SubmissionID: "sub-a", Status: types.StatusQueued, QueuedAt: time.Now(),
	}, time.Hour))
	require.NoError(t, c.Put(context.Background(), "sub-b", &types.StatusRecord{
		SubmissionID: "sub-b", Status: types.StatusQueued, QueuedAt: time.Now(),
	}, time.Hour))
	q.Enqueue(&types.Submission{SubmissionID: "sub-a"})
	q.Enqueue(&types.Submission{SubmissionID: "sub-b"})

	req := httptest.NewRequest(http.MethodGet, "/execution/status/sub-b", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var record types.StatusRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.NotNil(t, record.QueuePosition)
	require.Equal(t, 1, *record.QueuePosition)
}

func TestHandleCancel_QueuedSucceeds(t *testing.T) {
	s, q, c := newTestServer(t)
	require.NoError(t, c.Put(context.Background(), "sub-c", &types.StatusRecord{
		SubmissionID: "sub-c", Status: types.StatusQueued, QueuedAt: time.Now(),
	}, time.Hour))
	q.Enqueue(&types.Submission{SubmissionID: "sub-c"})

	req := httptest.NewRequest(http.MethodDelete, "/execution/cancel/sub-c", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	record, err := c.Get(context.Background(), "sub-c")
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, record.Status)
	require.Equal(t, 0, q.Size())
}

func TestHandleCancel_RunningRejected(t *testing.T) {
	s, _, c := newTestServer(t)
	now := time.Now()
	require.NoError(t, c.Put(context.Background(), "sub-d", &types.StatusRecord{
		SubmissionID: "sub-d", Status: types.StatusRunning, QueuedAt: now, StartedAt: &now,
	}, time.Hour))

	req := httptest.NewRequest(http.MethodDelete, "/execution/cancel/sub-d", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	record, err := c.Get(context.Background(), "sub-d")
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, record.Status)
}

func TestHandleHealth(t *testing.T) {
	s, q, _ := newTestServer(t)
	q.Enqueue(&types.Submission{SubmissionID: "x"})

	req := httptest.NewRequest(http.MethodGet, "/execution/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "UP", resp.Status)
	require.Equal(t, 1, resp.QueueSize)
	require.Equal(t, 2, resp.ActiveWorkers)
}
