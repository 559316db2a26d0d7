package system

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/volteria/controller-core/internal/httphealth"
)

// fetchHealth GETs and decodes a service's /health response. It returns
// ok=false on any transport or decode failure, treating the service as
// unreachable rather than propagating an error.
func fetchHealth(ctx context.Context, port int) (httphealth.Response, bool) {
	var resp httphealth.Response

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resp, false
	}
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return resp, false
	}
	defer httpResp.Body.Close()

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, false
	}
	return resp, true
}
