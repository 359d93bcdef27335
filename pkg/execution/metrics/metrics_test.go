package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/types"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveSubmissionExposedViaHandler(t *testing.T) {
	r := NewRecorder()
	r.ObserveSubmission(types.StatusCompleted, 250*time.Millisecond)
	r.ObserveSubmission(types.StatusFailed, 50*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `cxe_submissions_total{status="COMPLETED"} 1`))
	require.True(t, strings.Contains(body, `cxe_submissions_total{status="FAILED"} 1`))
	require.True(t, strings.Contains(body, "cxe_execution_duration_seconds"))
}
