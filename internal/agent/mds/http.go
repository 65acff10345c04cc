package mds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fieldline/casesync/internal/common"
)

// HTTPChannel is the production Channel implementation: JSON envelopes over
// plain HTTP POST/GET against the dispatch server's API.
//
// Per-call timeouts are derived from the estimated link bandwidth and the
// payload size, so a large chunk on a slow link is not cut off prematurely
// while an empty poll still fails fast.
type HTTPChannel struct {
	baseURL     string
	httpClient  *http.Client
	baseTimeout time.Duration
	bandwidth   int64 // estimated bytes/sec, used for timeout scaling

	mu           sync.Mutex
	sessionToken string
}

// NewHTTPChannel builds a channel against baseURL. bandwidthBytesPerSec must
// be positive; it only affects timeout scaling here, not chunk sizing.
func NewHTTPChannel(baseURL string, bandwidthBytesPerSec int64, httpClient *http.Client) *HTTPChannel {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if bandwidthBytesPerSec <= 0 {
		bandwidthBytesPerSec = 1024
	}
	return &HTTPChannel{
		baseURL:     baseURL,
		httpClient:  httpClient,
		baseTimeout: 10 * time.Second,
		bandwidth:   bandwidthBytesPerSec,
	}
}

// timeoutFor returns the deadline budget for a call moving payloadBytes.
func (c *HTTPChannel) timeoutFor(payloadBytes int64) time.Duration {
	transfer := time.Duration(payloadBytes) * time.Second / time.Duration(c.bandwidth)
	return c.baseTimeout + transfer
}

func (c *HTTPChannel) setSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionToken = token
}

func (c *HTTPChannel) getSessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

// do performs one exchange and decodes the response envelope. Any transport
// error or non-JSON response is mapped to common.ErrNoConnection; HTTP
// status codes are irrelevant beyond that, the envelope carries the outcome.
func (c *HTTPChannel) do(ctx context.Context, method, path, contentType string, body []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(int64(len(body))))
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.getSessionToken(); token != "" {
		req.Header.Set(common.SessionTokenHeaderName, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrNoConnection, err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("%w: malformed envelope: %v", common.ErrNoConnection, err)
	}
	return result, nil
}

// ValidateCredentials exchanges credentials for a session token. The token
// is remembered for subsequent calls on this channel.
func (c *HTTPChannel) ValidateCredentials(ctx context.Context, creds Credentials) (Result, error) {
	body, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return Result{}, err
	}

	result, err := c.do(ctx, http.MethodPost, "/api/v1/session", "application/json", body)
	if err != nil {
		return Result{}, err
	}

	if result.Succeeded() {
		token, err := result.DataString()
		if err != nil {
			return Result{}, err
		}
		c.setSessionToken(token)
	}
	return result, nil
}

// UploadText transfers the record's serialized answer payload.
func (c *HTTPChannel) UploadText(ctx context.Context, recordGUID string, payload []byte) (Result, error) {
	path := "/api/v1/cases/" + url.PathEscape(recordGUID)
	return c.do(ctx, http.MethodPost, path, "application/octet-stream", payload)
}

// UploadChunk transfers one byte range of an attachment. The chunk length
// travels as the request body; size declares the attachment's total size.
func (c *HTTPChannel) UploadChunk(ctx context.Context, recordGUID, elementID string, offset, total int64, chunk []byte) (Result, error) {
	path := fmt.Sprintf("/api/v1/cases/%s/attachments/%s/chunks?offset=%d&size=%d",
		url.PathEscape(recordGUID), url.PathEscape(elementID), offset, total)
	return c.do(ctx, http.MethodPost, path, "application/octet-stream", chunk)
}

// FetchNotifications polls for message parts newer than cursor.
func (c *HTTPChannel) FetchNotifications(ctx context.Context, cursor string) ([]MessagePart, string, error) {
	path := "/api/v1/notifications"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}

	result, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, "", err
	}
	if result.Failed() {
		return nil, "", fmt.Errorf("notification poll rejected: %s", result.Code)
	}

	var data struct {
		Parts []MessagePart `json:"parts"`
		Next  string        `json:"next"`
	}
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, "", fmt.Errorf("malformed notification data: %w", err)
	}
	return data.Parts, data.Next, nil
}

var _ Channel = (*HTTPChannel)(nil)

// ackOffsetFromChunkResult extracts the server's acknowledged offset from a
// chunk upload envelope: from Data on SUCCESS, and also on a bad_offset
// FAILURE, where the server reports where it actually stands.
func ackOffsetFromChunkResult(result Result) (int64, bool) {
	if len(result.Data) == 0 {
		return 0, false
	}
	v, err := result.DataInt64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// AckOffset is the exported form used by the chunked transfer loop.
func AckOffset(result Result) (int64, bool) {
	if result.Succeeded() || result.Code == CodeBadOffset {
		return ackOffsetFromChunkResult(result)
	}
	return 0, false
}

// FormatCount renders the 1-based "index/total" count field.
func FormatCount(index, total int) string {
	return strconv.Itoa(index) + "/" + strconv.Itoa(total)
}
