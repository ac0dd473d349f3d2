package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesRegisteredMetrics はスクレイプ結果に記録済みのメトリクスが含まれることを検証する。
func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPartnerTransition("send_request")
	c.RecordHTTPStatus(http.StatusConflict)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	for _, want := range []string{
		`fintrack_partner_transitions_total{operation="send_request"} 1`,
		`fintrack_http_status_total{status_code="409"} 1`,
	} {
		if !strings.Contains(bodyStr, want) {
			t.Errorf("response should contain %q, got:\n%s", want, bodyStr)
		}
	}
}

// TestHandler_EmptyRegistry は未登録のレジストリでも200を返すことを検証する。
func TestHandler_EmptyRegistry(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(prometheus.NewRegistry()).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
