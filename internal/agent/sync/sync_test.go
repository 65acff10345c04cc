package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldline/casesync/internal/agent/events"
	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/agent/models"
	"github.com/fieldline/casesync/internal/agent/repositories/records"
	"github.com/fieldline/casesync/internal/logging"

	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE records (
  guid TEXT PRIMARY KEY,
  patient_id TEXT NOT NULL DEFAULT '',
  payload BLOB NOT NULL,
  finished INTEGER NOT NULL DEFAULT 0,
  uploaded INTEGER NOT NULL DEFAULT 0,
  queue_status INTEGER NOT NULL DEFAULT 0,
  queue_position INTEGER NOT NULL DEFAULT -1,
  cancel_requested INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE TABLE attachments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  record_guid TEXT NOT NULL,
  element_id TEXT NOT NULL,
  path TEXT NOT NULL,
  size INTEGER NOT NULL DEFAULT 0,
  upload_progress INTEGER NOT NULL DEFAULT 0,
  uploaded INTEGER NOT NULL DEFAULT 0,
  file_valid INTEGER NOT NULL DEFAULT 0
);
`

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

// openSharedDB opens a file-backed database so several handles (standing in
// for separate processes) can share one queue. The first opener creates the
// schema.
func openSharedDB(t *testing.T, path string, create bool) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if create {
		_, err = db.Exec(testSchema)
		require.NoError(t, err)
	}
	return db
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.DiscardHandler))
}

func writeAttachmentFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "binary.dat")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func okResult() mds.Result {
	return mds.Result{Status: "SUCCESS"}
}

func okOffset(offset int64) mds.Result {
	return mds.Result{Status: "SUCCESS", Data: json.RawMessage(strconv.FormatInt(offset, 10))}
}

func failResult(code string, data string) mds.Result {
	r := mds.Result{Status: "FAILURE", Code: code}
	if data != "" {
		r.Data = json.RawMessage(data)
	}
	return r
}

type chunkCall struct {
	guid    string
	element string
	offset  int64
	size    int
}

// stubChannel is a scriptable mds.Channel. The default behavior accepts
// everything and acknowledges each chunk at offset+len.
type stubChannel struct {
	mu gosync.Mutex

	validateFn func(creds mds.Credentials) (mds.Result, error)
	textFn     func(guid string) (mds.Result, error)
	chunkFn    func(call chunkCall) (mds.Result, error)

	validateCalls int
	textGUIDs     []string
	chunkCalls    []chunkCall
}

func (c *stubChannel) ValidateCredentials(ctx context.Context, creds mds.Credentials) (mds.Result, error) {
	c.mu.Lock()
	c.validateCalls++
	fn := c.validateFn
	c.mu.Unlock()

	if fn != nil {
		return fn(creds)
	}
	return okResult(), nil
}

func (c *stubChannel) UploadText(ctx context.Context, recordGUID string, payload []byte) (mds.Result, error) {
	c.mu.Lock()
	c.textGUIDs = append(c.textGUIDs, recordGUID)
	fn := c.textFn
	c.mu.Unlock()

	if fn != nil {
		return fn(recordGUID)
	}
	return okResult(), nil
}

func (c *stubChannel) UploadChunk(ctx context.Context, recordGUID, elementID string, offset, total int64, chunk []byte) (mds.Result, error) {
	call := chunkCall{guid: recordGUID, element: elementID, offset: offset, size: len(chunk)}
	c.mu.Lock()
	c.chunkCalls = append(c.chunkCalls, call)
	fn := c.chunkFn
	c.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	return okOffset(offset + int64(len(chunk))), nil
}

func (c *stubChannel) FetchNotifications(ctx context.Context, cursor string) ([]mds.MessagePart, string, error) {
	return nil, cursor, nil
}

func (c *stubChannel) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.textGUIDs...)
}

func (c *stubChannel) chunks() []chunkCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chunkCall(nil), c.chunkCalls...)
}

// stubOracle is a switchable netwatch.Oracle.
type stubOracle struct {
	mu        gosync.Mutex
	reachable bool
	changes   chan struct{}
}

func newStubOracle(reachable bool) *stubOracle {
	return &stubOracle{reachable: reachable, changes: make(chan struct{}, 1)}
}

func (o *stubOracle) IsReachable(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reachable
}

func (o *stubOracle) Changes() <-chan struct{} {
	return o.changes
}

func (o *stubOracle) set(reachable bool) {
	o.mu.Lock()
	o.reachable = reachable
	o.mu.Unlock()
	select {
	case o.changes <- struct{}{}:
	default:
	}
}

// captureSink records every emitted event.
type captureSink struct {
	mu  gosync.Mutex
	all []events.Event
}

func (s *captureSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, e)
}

func (s *captureSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]events.Kind, len(s.all))
	for i, e := range s.all {
		kinds[i] = e.Kind
	}
	return kinds
}

func newFinishedRecord(guid string) *models.Record {
	return &models.Record{
		GUID:          guid,
		PatientID:     "patient-1",
		Payload:       []byte(`{"answers":["a"]}`),
		Finished:      true,
		QueueStatus:   models.StatusNotQueued,
		QueuePosition: models.PositionNone,
	}
}

func waitStatus(t *testing.T, repo records.Repository, guid string, want models.QueueStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := repo.GetByGUID(context.Background(), guid)
		return err == nil && rec.QueueStatus == want
	}, 3*time.Second, 5*time.Millisecond, "record %s never reached %s", guid, want)
}
