package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

type (
	// RequestPipeline performs a single request in three steps: encode the
	// parameters, build the request, decode the response. There are no retries.
	RequestPipeline struct {
		client           *http.Client
		parametersParser func(params any) (io.Reader, error)
		requestPrepare   func(ctx context.Context, body io.Reader) (*http.Request, error)
		postProcess      func(responseBody []byte) (any, error)
	}

	// StatusError is returned for responses outside the 2xx range.
	StatusError struct {
		URL  string
		Code int
	}
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.URL, e.Code)
}

func (r RequestPipeline) Execute(ctx context.Context, params any) (any, error) {
	reader, err := r.parametersParser(params)
	if err != nil {
		return nil, fmt.Errorf("error during prepare: %w", err)
	}
	request, err := r.requestPrepare(ctx, reader)
	if err != nil {
		return nil, fmt.Errorf("error during request prepare: %w", err)
	}
	resp, err := r.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("error during request sending: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{URL: request.URL.Redacted(), Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("error during body response: %w", err)
	}
	result, err := r.postProcess(body)
	if err != nil {
		return nil, fmt.Errorf("error during body post process: %w", err)
	}
	return result, nil
}

func prepareJSONBody(params any) (io.Reader, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("can not marshal JSON: %w", err)
	}
	return bytes.NewReader(raw), nil
}

// jsonPost builds POST requests to url carrying a bearer credential.
func jsonPost(url, token string) func(ctx context.Context, body io.Reader) (*http.Request, error) {
	return func(ctx context.Context, body io.Reader) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}
}
