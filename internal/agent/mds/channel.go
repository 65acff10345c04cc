package mds

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Credentials identify this device/user against the dispatch server.
type Credentials struct {
	Username string
	Password string
}

// MessagePart is one numbered fragment of a dispatch notification. The short
// field names are the server's: n = notification id, c = case (record) guid,
// p = patient id, d = "index/total".
type MessagePart struct {
	NotificationID string `json:"n"`
	RecordGUID     string `json:"c"`
	PatientID      string `json:"p"`
	Count          string `json:"d"`
	Text           string `json:"text"`
}

// ParseCount splits the "index/total" count field. Index is 1-based.
func (p MessagePart) ParseCount() (index, total int, err error) {
	parts := strings.SplitN(p.Count, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed count field %q", p.Count)
	}
	index, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed count field %q: %w", p.Count, err)
	}
	total, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed count field %q: %w", p.Count, err)
	}
	if index < 1 || total < 1 || index > total {
		return 0, 0, fmt.Errorf("count field %q out of range", p.Count)
	}
	return index, total, nil
}

// Channel performs single logical request/response exchanges with the
// dispatch server. Transport failures (no route, timeout) are returned as
// errors wrapping common.ErrNoConnection; protocol-level rejections come
// back as a FAILURE Result with a nil error.
type Channel interface {
	// ValidateCredentials checks the stored credentials. On SUCCESS the
	// envelope data carries a session token used by subsequent calls.
	ValidateCredentials(ctx context.Context, creds Credentials) (Result, error)

	// UploadText transfers a record's serialized answer payload.
	UploadText(ctx context.Context, recordGUID string, payload []byte) (Result, error)

	// UploadChunk transfers one contiguous byte range of an attachment.
	// total declares the full attachment size so the server knows when the
	// last chunk has arrived. On SUCCESS the envelope data carries the new
	// acknowledged offset.
	UploadChunk(ctx context.Context, recordGUID, elementID string, offset, total int64, chunk []byte) (Result, error)

	// FetchNotifications returns message parts newer than cursor, plus the
	// next cursor to poll from.
	FetchNotifications(ctx context.Context, cursor string) ([]MessagePart, string, error)
}
