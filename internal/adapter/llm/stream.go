package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 4 << 10

// openStream posts payload and returns the response body of a 2xx answer.
func openStream(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Provider: provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return resp.Body, nil
}

// scanLines hands every non-blank line of r to handle, buffering partial reads until
// a newline arrives. handle reports done on the provider's terminal signal; reaching
// EOF first is an error wrapping io.ErrUnexpectedEOF.
func scanLines(ctx context.Context, r io.Reader, handle func(line string) (done bool, err error)) error {
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); strings.TrimSpace(line) != "" {
			done, err := handle(line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return fmt.Errorf("stream closed before completion: %w", io.ErrUnexpectedEOF)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read stream: %w", readErr)
		}
	}
}

// sseData extracts the payload of an SSE data line.
func sseData(line string) (string, bool) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(data), true
}
