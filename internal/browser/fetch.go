package browser

import (
	"encoding/json"
	"fmt"
)

// FetchResult is what the in-page fetch script resolves to.
type FetchResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// FetchScript builds an expression that POSTs payload as JSON to url from
// inside the page, carrying the page's cookies, and resolves to a FetchResult.
// The body is returned as text so non-JSON error pages survive decoding.
func FetchScript(url string, payload any) (string, error) {
	u, err := json.Marshal(url)
	if err != nil {
		return "", fmt.Errorf("encode fetch url: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode fetch payload: %w", err)
	}
	return fmt.Sprintf(`(async () => {
  const response = await fetch(%s, {
    method: "POST",
    credentials: "include",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify(%s),
  });
  const body = await response.text();
  return { ok: response.ok, status: response.status, body: body };
})()`, u, body), nil
}
