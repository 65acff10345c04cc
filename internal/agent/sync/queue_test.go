package sync

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/casesync/internal/agent/events"
	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/agent/models"
	"github.com/fieldline/casesync/internal/agent/repositories/attachments"
	"github.com/fieldline/casesync/internal/agent/repositories/records"
	"github.com/fieldline/casesync/internal/common"
)

type managerFixture struct {
	db       *sql.DB
	records  records.Repository
	attaches attachments.Repository
	channel  *stubChannel
	oracle   *stubOracle
	sink     *captureSink
	manager  *Manager
}

func newManagerFixture(t *testing.T, cfg ManagerConfig) *managerFixture {
	t.Helper()
	return newManagerFixtureDB(t, cfg, setupDB(t))
}

func newManagerFixtureDB(t *testing.T, cfg ManagerConfig, db *sql.DB) *managerFixture {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}

	ch := &stubChannel{}
	oracle := newStubOracle(true)
	sink := &captureSink{}
	logger := testLogger()

	attachRepo := attachments.NewSQLiteRepository(db)
	gate := NewCredentialGate(ch, mds.Credentials{Username: "u", Password: "p"}, sink, logger)
	uploader := NewChunkedUploader(ch, attachRepo, 1024, time.Second, 1, time.Millisecond, sink, logger)

	return &managerFixture{
		db:       db,
		records:  records.NewSQLiteRepository(db),
		attaches: attachRepo,
		channel:  ch,
		oracle:   oracle,
		sink:     sink,
		manager:  NewManager(db, ch, oracle, gate, uploader, sink, logger, cfg),
	}
}

func (f *managerFixture) addRecord(t *testing.T, guid string) {
	t.Helper()
	require.NoError(t, f.records.CreateOrUpdate(context.Background(), newFinishedRecord(guid)))
}

func (f *managerFixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.manager.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("manager did not stop")
		}
	})
}

func (f *managerFixture) position(t *testing.T, guid string) int {
	t.Helper()
	rec, err := f.records.GetByGUID(context.Background(), guid)
	require.NoError(t, err)
	return rec.QueuePosition
}

func TestEnqueue_AssignsDensePositions(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	for _, guid := range []string{"g1", "g2", "g3"} {
		f.addRecord(t, guid)
		require.NoError(t, f.manager.Enqueue(ctx, guid))
	}

	assert.Equal(t, 0, f.position(t, "g1"))
	assert.Equal(t, 1, f.position(t, "g2"))
	assert.Equal(t, 2, f.position(t, "g3"))
}

func TestEnqueue_RejectsUnfinishedRecord(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	rec := newFinishedRecord("g1")
	rec.Finished = false
	require.NoError(t, f.records.CreateOrUpdate(ctx, rec))

	assert.ErrorIs(t, f.manager.Enqueue(ctx, "g1"), common.ErrRecordNotDone)
}

func TestEnqueue_RejectsAlreadyQueued(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	f.addRecord(t, "g1")
	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	assert.ErrorIs(t, f.manager.Enqueue(ctx, "g1"), common.ErrInvalidState)
}

func TestEnqueue_FailedRecordRejoinsAtTail(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	f.addRecord(t, "g1")
	f.addRecord(t, "g2")
	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	require.NoError(t, f.manager.Enqueue(ctx, "g2"))
	require.NoError(t, f.records.SetQueueState(ctx, "g1", models.StatusFailed, 0))

	require.NoError(t, f.manager.Enqueue(ctx, "g1"))

	// g1 gave up slot 0; g2 moved down, g1 joined at the tail
	assert.Equal(t, 0, f.position(t, "g2"))
	assert.Equal(t, 1, f.position(t, "g1"))

	rec, err := f.records.GetByGUID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, rec.QueueStatus)
}

func TestDequeue_CompactsPositions(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	for _, guid := range []string{"g1", "g2", "g3"} {
		f.addRecord(t, guid)
		require.NoError(t, f.manager.Enqueue(ctx, guid))
	}

	pending, err := f.manager.Dequeue(ctx, "g2")
	require.NoError(t, err)
	assert.False(t, pending)

	rec, err := f.records.GetByGUID(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotQueued, rec.QueueStatus)
	assert.Equal(t, models.PositionNone, rec.QueuePosition)

	assert.Equal(t, 0, f.position(t, "g1"))
	assert.Equal(t, 1, f.position(t, "g3"))
}

func TestRun_UploadsRecordsInQueueOrder(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	f.addRecord(t, "g1")
	f.addRecord(t, "g2")
	addAttachment(t, f.attaches, "g1", 6000, 0)

	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	require.NoError(t, f.manager.Enqueue(ctx, "g2"))
	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusSuccess)
	waitStatus(t, f.records, "g2", models.StatusSuccess)

	assert.Equal(t, []string{"g1", "g2"}, f.channel.texts())
	for _, c := range f.channel.chunks() {
		assert.Equal(t, "g1", c.guid)
	}

	// positions released, queue fully compacted
	assert.Equal(t, models.PositionNone, f.position(t, "g1"))
	assert.Equal(t, models.PositionNone, f.position(t, "g2"))

	kinds := f.sink.kinds()
	assert.Contains(t, kinds, events.UploadStart)
	assert.Contains(t, kinds, events.UploadCaseFinish)
	assert.Contains(t, kinds, events.UploadBinaryFinish)
	assert.Contains(t, kinds, events.UploadSuccess)
}

func TestRun_InvalidCredentialsHaltQueue(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	var invalid atomic.Bool
	invalid.Store(true)
	f.channel.validateFn = func(mds.Credentials) (mds.Result, error) {
		if invalid.Load() {
			return failResult(mds.CodeInvalidCredentials, ""), nil
		}
		return okResult(), nil
	}

	f.addRecord(t, "g1")
	f.addRecord(t, "g2")
	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	require.NoError(t, f.manager.Enqueue(ctx, "g2"))
	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusStalledBadCredentials)

	// the halt is global: g2 stays queued and nothing was transferred
	rec, err := f.records.GetByGUID(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, rec.QueueStatus)
	assert.Equal(t, 0, rec.QueuePosition)
	assert.Empty(t, f.channel.texts())

	// new credentials resume the queue
	invalid.Store(false)
	f.manager.UpdateCredentials(mds.Credentials{Username: "u2", Password: "p2"})

	waitStatus(t, f.records, "g2", models.StatusSuccess)

	// the stalled record stays out of the queue until re-enqueued
	rec, err = f.records.GetByGUID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStalledBadCredentials, rec.QueueStatus)
	assert.Equal(t, models.PositionNone, rec.QueuePosition)
}

func TestRun_ContentRejectionFailsRecordAndContinues(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	f.channel.textFn = func(guid string) (mds.Result, error) {
		if guid == "g1" {
			return failResult(mds.CodeRejected, ""), nil
		}
		return okResult(), nil
	}

	f.addRecord(t, "g1")
	f.addRecord(t, "g2")
	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	require.NoError(t, f.manager.Enqueue(ctx, "g2"))
	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusFailed)
	waitStatus(t, f.records, "g2", models.StatusSuccess)

	// a failed record keeps its slot; it is skipped, not reordered
	assert.Equal(t, 0, f.position(t, "g1"))
	assert.Contains(t, f.sink.kinds(), events.UploadFailed)
}

func TestRun_SuspendsWithoutConnectivity(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	f.oracle.set(false)
	f.addRecord(t, "g1")
	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusWaitingForConnectivity)
	assert.Empty(t, f.channel.texts())
	assert.Equal(t, 0, f.position(t, "g1"))

	f.oracle.set(true)
	waitStatus(t, f.records, "g1", models.StatusSuccess)
}

func TestRun_TransientFailuresEventuallyFailRecord(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{ConnectivityFailureLimit: 2})
	ctx := context.Background()

	f.channel.textFn = func(string) (mds.Result, error) {
		return mds.Result{}, fmt.Errorf("post: %w", common.ErrNoConnection)
	}

	f.addRecord(t, "g1")
	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusFailed)
	assert.GreaterOrEqual(t, len(f.channel.texts()), 2)
}

func TestRun_DequeueDuringTransferCancelsCleanly(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	f.addRecord(t, "g1")
	f.addRecord(t, "g2")
	addAttachment(t, f.attaches, "g1", 10000, 0)

	// dequeue g1 while its first chunk is in flight; the transfer must stop
	// at the chunk boundary
	f.channel.chunkFn = func(call chunkCall) (mds.Result, error) {
		if call.guid == "g1" && call.offset == 0 {
			pending, err := f.manager.Dequeue(ctx, "g1")
			require.NoError(t, err)
			require.True(t, pending)
		}
		return okOffset(call.offset + int64(call.size)), nil
	}

	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	require.NoError(t, f.manager.Enqueue(ctx, "g2"))
	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusNotQueued)
	waitStatus(t, f.records, "g2", models.StatusSuccess)

	// only the in-flight chunk went out for g1
	var g1Chunks int
	for _, c := range f.channel.chunks() {
		if c.guid == "g1" {
			g1Chunks++
		}
	}
	assert.Equal(t, 1, g1Chunks)

	// acknowledged progress survives for a later re-enqueue
	pending, err := f.attaches.ListPending(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(4096), pending[0].UploadProgress)
}

func TestRun_DequeueFromSecondProcessCancelsTransfer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casesync.db")

	// two managers over one database file, standing in for the worker daemon
	// and a separate CLI invocation
	daemon := newManagerFixtureDB(t, ManagerConfig{}, openSharedDB(t, path, true))
	cli := newManagerFixtureDB(t, ManagerConfig{}, openSharedDB(t, path, false))
	ctx := context.Background()

	daemon.addRecord(t, "g1")
	addAttachment(t, daemon.attaches, "g1", 10000, 0)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	var once gosync.Once
	daemon.channel.chunkFn = func(call chunkCall) (mds.Result, error) {
		once.Do(func() {
			close(inFlight)
			<-release
		})
		return okOffset(call.offset + int64(call.size)), nil
	}

	require.NoError(t, daemon.manager.Enqueue(ctx, "g1"))
	daemon.start(t)

	// dequeue through the other manager while the daemon is mid-chunk
	<-inFlight
	pending, err := cli.manager.Dequeue(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, pending)
	close(release)

	// the daemon picks the persisted request up at the chunk boundary
	waitStatus(t, daemon.records, "g1", models.StatusNotQueued)

	var g1Chunks int
	for _, c := range daemon.channel.chunks() {
		if c.guid == "g1" {
			g1Chunks++
		}
	}
	assert.Equal(t, 1, g1Chunks)

	rec, err := daemon.records.GetByGUID(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, rec.CancelRequested)
	assert.Equal(t, models.PositionNone, rec.QueuePosition)
}

func TestRun_RecoversInterruptedRecords(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	// a previous process died mid-transfer and mid-suspend
	f.addRecord(t, "g1")
	f.addRecord(t, "g2")
	require.NoError(t, f.records.SetQueueState(ctx, "g1", models.StatusInProgress, 0))
	require.NoError(t, f.records.SetQueueState(ctx, "g2", models.StatusWaitingForConnectivity, 1))

	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusSuccess)
	waitStatus(t, f.records, "g2", models.StatusSuccess)
	assert.Equal(t, []string{"g1", "g2"}, f.channel.texts())
}

func TestRun_TextUploadNotRepeatedForResumedRecord(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	ctx := context.Background()

	f.addRecord(t, "g1")
	require.NoError(t, f.records.MarkUploaded(ctx, "g1"))
	addAttachment(t, f.attaches, "g1", 5000, 0)

	require.NoError(t, f.manager.Enqueue(ctx, "g1"))
	f.start(t)

	waitStatus(t, f.records, "g1", models.StatusSuccess)
	assert.Empty(t, f.channel.texts())
	assert.NotEmpty(t, f.channel.chunks())
}
