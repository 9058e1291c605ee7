package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// postJSON sends in as a JSON body and decodes a 2xx answer into out. It
// returns the response status so callers can attach it to errors reported in
// the body. Failures are already mapped onto the provider error taxonomy.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, in, out any) (int, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, transportError(ctx, provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return resp.StatusCode, &RemoteServiceError{Provider: provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, transportError(ctx, provider, err)
	}
	return resp.StatusCode, nil
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
