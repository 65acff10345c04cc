package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/fieldline/casesync/internal/agent/events"
	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/agent/models"
	"github.com/fieldline/casesync/internal/agent/netwatch"
	"github.com/fieldline/casesync/internal/agent/repositories/attachments"
	"github.com/fieldline/casesync/internal/agent/repositories/records"
	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/dbx"
	"github.com/fieldline/casesync/internal/logging"
)

// ManagerConfig tunes the scheduler loop.
type ManagerConfig struct {
	// PollInterval bounds how long the loop sleeps while idle or while
	// waiting for connectivity without a change signal.
	PollInterval time.Duration

	// RetryDelay is the pause after a transient failure before the loop
	// picks up the next candidate.
	RetryDelay time.Duration

	// ConnectivityFailureLimit is how many consecutive connectivity-classified
	// failures one record absorbs before it is marked FAILED. Bounded so a
	// persistent per-record transport problem is eventually surfaced, but a
	// brief outage is not mistaken for a content problem.
	ConnectivityFailureLimit int
}

func (c *ManagerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.ConnectivityFailureLimit <= 0 {
		c.ConnectivityFailureLimit = 5
	}
}

// Manager is the upload queue scheduler. A single background worker drives
// records through the credential gate and the chunked uploader one at a
// time, in queue-position order. All state transitions go through the
// record store, so a crash resumes from persisted state.
type Manager struct {
	db       *sql.DB
	records  records.Repository
	attaches attachments.Repository
	oracle   netwatch.Oracle
	gate     *CredentialGate
	uploader *ChunkedUploader
	channel  mds.Channel
	sink     events.Sink
	logger   logging.Logger
	cfg      ManagerConfig

	wake         chan struct{}
	credsChanged chan struct{}

	mu           gosync.Mutex
	cancelGUID   string
	connFailures map[string]int
}

// NewManager wires the scheduler. The db handle is used for the multi-step
// transitions that must move a record and compact positions atomically.
func NewManager(db *sql.DB, channel mds.Channel, oracle netwatch.Oracle,
	gate *CredentialGate, uploader *ChunkedUploader,
	sink events.Sink, logger logging.Logger, cfg ManagerConfig) *Manager {

	cfg.applyDefaults()
	return &Manager{
		db:           db,
		records:      records.NewSQLiteRepository(db),
		attaches:     attachments.NewSQLiteRepository(db),
		oracle:       oracle,
		gate:         gate,
		uploader:     uploader,
		channel:      channel,
		sink:         sink,
		logger:       logger.With("component", "queue"),
		cfg:          cfg,
		wake:         make(chan struct{}, 1),
		credsChanged: make(chan struct{}, 1),
	}
}

// Enqueue places a finished record at the tail of the upload queue.
// Valid from NOT_QUEUED, FAILED and STALLED_BAD_CREDENTIALS; a FAILED record
// re-entering the queue gives up its old slot and joins at the tail.
func (m *Manager) Enqueue(ctx context.Context, guid string) error {
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)

		rec, err := repo.GetByGUID(ctx, guid)
		if err != nil {
			return err
		}
		if !rec.Finished {
			return common.ErrRecordNotDone
		}
		if !rec.QueueStatus.CanEnqueue() {
			return fmt.Errorf("%w: cannot enqueue from %s", common.ErrInvalidState, rec.QueueStatus)
		}

		if rec.QueuePosition >= 0 {
			if err := repo.SetQueueState(ctx, guid, rec.QueueStatus, models.PositionNone); err != nil {
				return err
			}
			if err := repo.ShiftPositionsAbove(ctx, rec.QueuePosition); err != nil {
				return err
			}
		}

		// a stale cancel request must not shoot down the fresh enqueue
		if err := repo.SetCancelRequested(ctx, guid, false); err != nil {
			return err
		}

		max, err := repo.MaxPosition(ctx)
		if err != nil {
			return err
		}
		return repo.SetQueueState(ctx, guid, models.StatusQueued, max+1)
	})
	if err != nil {
		return err
	}

	m.signal(m.wake)
	return nil
}

// Dequeue removes a record from the queue. If the record is currently being
// transferred, the cancellation request is persisted instead and honored at
// the next chunk boundary; that works even when the transfer runs in another
// process, since the worker re-checks the store between chunks. The returned
// bool reports whether the removal is still pending on a running transfer.
func (m *Manager) Dequeue(ctx context.Context, guid string) (bool, error) {
	rec, err := m.records.GetByGUID(ctx, guid)
	if err != nil {
		return false, err
	}
	if rec.QueueStatus == models.StatusInProgress {
		if err := m.records.SetCancelRequested(ctx, guid, true); err != nil {
			return false, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
		}
		m.requestCancel(guid)
		return true, nil
	}
	return false, m.clearFromQueue(ctx, guid, models.StatusNotQueued)
}

// UpdateCredentials swaps the stored credentials and wakes a loop stalled on
// STALLED_BAD_CREDENTIALS.
func (m *Manager) UpdateCredentials(creds mds.Credentials) {
	m.gate.SetCredentials(creds)
	m.signal(m.credsChanged)
	m.signal(m.wake)
}

// ForceCredentialCheck drops the cached validation so the next activation
// re-validates, and wakes a stalled loop.
func (m *Manager) ForceCredentialCheck() {
	m.gate.Invalidate()
	m.signal(m.credsChanged)
	m.signal(m.wake)
}

// Run drives the scheduler until ctx is cancelled. The only errors returned
// besides ctx.Err() are record-store failures that make progress impossible;
// everything else is absorbed as a state transition.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.recoverInterrupted(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rec, err := m.records.NextQueued(ctx)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				if !m.waitIdle(ctx) {
					return ctx.Err()
				}
				continue
			}
			return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
		}

		if err := m.process(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// recoverInterrupted resets records a previous process left mid-flight.
// IN_PROGRESS and WAITING_FOR_CONNECTIVITY both go back to QUEUED with
// their position intact, so processing resumes in the original order.
func (m *Manager) recoverInterrupted(ctx context.Context) error {
	for _, status := range []models.QueueStatus{models.StatusInProgress, models.StatusWaitingForConnectivity} {
		recs, err := m.records.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			m.logger.Info(ctx, "recovering interrupted record", "guid", rec.GUID, "from", rec.QueueStatus.String())
			if err := m.records.SetQueueState(ctx, rec.GUID, models.StatusQueued, rec.QueuePosition); err != nil {
				return err
			}
		}
	}
	return nil
}

// process runs one scheduler activation for the given record.
func (m *Manager) process(ctx context.Context, rec *models.Record) error {
	if m.cancelRequested(ctx, rec.GUID) {
		return m.finishCancel(ctx, rec.GUID)
	}

	if !m.oracle.IsReachable(ctx) {
		return m.suspendForConnectivity(ctx, rec)
	}

	switch m.gate.Validate(ctx) {
	case CredentialsNoConnection:
		return m.suspendForConnectivity(ctx, rec)
	case CredentialsInvalid:
		return m.stall(ctx, rec)
	}

	if err := m.records.SetQueueState(ctx, rec.GUID, models.StatusInProgress, rec.QueuePosition); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	m.sink.Emit(events.Event{Kind: events.UploadStart, RecordGUID: rec.GUID})
	m.logger.Info(ctx, "uploading record", "guid", rec.GUID, "position", rec.QueuePosition)

	return m.transfer(ctx, rec)
}

// transfer moves the record's text payload and then its attachments,
// classifying every failure into a state transition.
func (m *Manager) transfer(ctx context.Context, rec *models.Record) error {
	if !rec.Uploaded {
		m.sink.Emit(events.Event{Kind: events.UploadCaseStart, RecordGUID: rec.GUID})

		result, err := m.channel.UploadText(ctx, rec.GUID, rec.Payload)
		if err != nil {
			m.sink.Emit(events.Event{Kind: events.UploadCaseFailed, RecordGUID: rec.GUID, Detail: err.Error()})
			return m.handleTransient(ctx, rec, err)
		}
		if result.Failed() {
			m.sink.Emit(events.Event{Kind: events.UploadCaseFailed, RecordGUID: rec.GUID, Detail: result.Code})
			if result.Code == mds.CodeInvalidCredentials {
				m.gate.Invalidate()
				return m.stall(ctx, rec)
			}
			return m.fail(ctx, rec, "text payload rejected: "+result.Code)
		}

		if err := m.records.MarkUploaded(ctx, rec.GUID); err != nil {
			return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
		}
		rec.Uploaded = true
		m.resetFailures(rec.GUID)
		m.sink.Emit(events.Event{Kind: events.UploadCaseFinish, RecordGUID: rec.GUID})
	}

	pending, err := m.attaches.ListPending(ctx, rec.GUID)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	for _, a := range pending {
		err := m.uploader.Upload(ctx, a, func() bool { return m.cancelRequested(ctx, rec.GUID) })
		switch {
		case err == nil:
			m.resetFailures(rec.GUID)

		case errors.Is(err, common.ErrCancelled):
			return m.finishCancel(ctx, rec.GUID)

		case errors.Is(err, common.ErrNoConnection):
			return m.handleTransient(ctx, rec, err)

		case errors.Is(err, common.ErrContentRejected):
			return m.fail(ctx, rec, err.Error())

		default:
			// local error (unreadable file, store hiccup): the unit is
			// skipped, the loop lives on
			m.logger.Error(ctx, "attachment transfer failed locally",
				"guid", rec.GUID, "attachment", a.ID, "error", err)
			return m.fail(ctx, rec, err.Error())
		}
	}

	return m.succeed(ctx, rec)
}

// handleTransient books one connectivity-classified failure against the
// record. Below the limit the record goes back to QUEUED (same position) and
// the loop pauses briefly; at the limit it is marked FAILED.
func (m *Manager) handleTransient(ctx context.Context, rec *models.Record, cause error) error {
	m.mu.Lock()
	if m.connFailures == nil {
		m.connFailures = map[string]int{}
	}
	m.connFailures[rec.GUID]++
	n := m.connFailures[rec.GUID]
	m.mu.Unlock()

	m.logger.Warn(ctx, "transient failure", "guid", rec.GUID, "consecutive", n, "error", cause)

	if n >= m.cfg.ConnectivityFailureLimit {
		m.resetFailures(rec.GUID)
		return m.fail(ctx, rec, fmt.Sprintf("gave up after %d connectivity failures: %v", n, cause))
	}

	if err := m.records.SetQueueState(ctx, rec.GUID, models.StatusQueued, rec.QueuePosition); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	m.sleep(ctx, m.cfg.RetryDelay)
	return nil
}

// suspendForConnectivity parks the active record and the whole loop until
// the network is back. The record keeps its position, so on resume the loop
// picks it up again first.
func (m *Manager) suspendForConnectivity(ctx context.Context, rec *models.Record) error {
	if err := m.records.SetQueueState(ctx, rec.GUID, models.StatusWaitingForConnectivity, rec.QueuePosition); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	m.logger.Info(ctx, "suspending until connectivity returns", "guid", rec.GUID)

	if !m.waitForConnectivity(ctx) {
		return nil // shutting down; recovery resets the state on next start
	}

	if err := m.records.SetQueueState(ctx, rec.GUID, models.StatusQueued, rec.QueuePosition); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return nil
}

// stall reacts to rejected credentials: the active record leaves the queue
// as STALLED_BAD_CREDENTIALS and the loop halts until credentials change or
// a re-check is forced. A credentials problem affects every record, so no
// other record is attempted meanwhile.
func (m *Manager) stall(ctx context.Context, rec *models.Record) error {
	if err := m.clearFromQueue(ctx, rec.GUID, models.StatusStalledBadCredentials); err != nil {
		return err
	}
	m.sink.Emit(events.Event{Kind: events.UploadFailed, RecordGUID: rec.GUID, Detail: "invalid credentials"})
	m.logger.Warn(ctx, "queue halted on invalid credentials", "guid", rec.GUID)

	select {
	case <-ctx.Done():
	case <-m.credsChanged:
	}
	return nil
}

func (m *Manager) succeed(ctx context.Context, rec *models.Record) error {
	if err := m.clearFromQueue(ctx, rec.GUID, models.StatusSuccess); err != nil {
		return err
	}
	m.resetFailures(rec.GUID)
	m.sink.Emit(events.Event{Kind: events.UploadSuccess, RecordGUID: rec.GUID})
	m.logger.Info(ctx, "record uploaded", "guid", rec.GUID)
	return nil
}

func (m *Manager) fail(ctx context.Context, rec *models.Record, detail string) error {
	// position intentionally kept: the record is skipped, not reordered
	if err := m.records.SetQueueState(ctx, rec.GUID, models.StatusFailed, rec.QueuePosition); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	m.sink.Emit(events.Event{Kind: events.UploadFailed, RecordGUID: rec.GUID, Detail: detail})
	m.logger.Warn(ctx, "record failed", "guid", rec.GUID, "detail", detail)
	return nil
}

// finishCancel honors a dequeue of the in-progress record at a safe
// checkpoint. Cancellation is not an error, so the record ends NOT_QUEUED.
func (m *Manager) finishCancel(ctx context.Context, guid string) error {
	m.mu.Lock()
	if m.cancelGUID == guid {
		m.cancelGUID = ""
	}
	m.mu.Unlock()

	m.logger.Info(ctx, "transfer cancelled", "guid", guid)
	return m.clearFromQueue(ctx, guid, models.StatusNotQueued)
}

// clearFromQueue atomically moves a record to a positionless state and
// compacts the remaining positions so they stay dense.
func (m *Manager) clearFromQueue(ctx context.Context, guid string, status models.QueueStatus) error {
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)
		rec, err := repo.GetByGUID(ctx, guid)
		if err != nil {
			return err
		}
		if err := repo.SetQueueState(ctx, guid, status, models.PositionNone); err != nil {
			return err
		}
		if err := repo.SetCancelRequested(ctx, guid, false); err != nil {
			return err
		}
		if rec.QueuePosition >= 0 {
			return repo.ShiftPositionsAbove(ctx, rec.QueuePosition)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return nil
}

func (m *Manager) requestCancel(guid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelGUID = guid
}

// cancelRequested checks the in-memory fast path first, then the persisted
// flag: a dequeue may have been issued by another process over the shared
// database while this worker was mid-transfer.
func (m *Manager) cancelRequested(ctx context.Context, guid string) bool {
	m.mu.Lock()
	requested := m.cancelGUID == guid
	m.mu.Unlock()
	if requested {
		return true
	}

	rec, err := m.records.GetByGUID(ctx, guid)
	return err == nil && rec.CancelRequested
}

func (m *Manager) resetFailures(guid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connFailures, guid)
}

// waitIdle suspends an empty queue until a record is enqueued or the poll
// interval elapses. Returns false when ctx is done.
func (m *Manager) waitIdle(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.wake:
		return true
	case <-time.After(m.cfg.PollInterval):
		return true
	}
}

// waitForConnectivity blocks until the oracle reports the server reachable,
// re-checking on the poll interval or on a change signal. No record-store
// lock is held while suspended. Returns false when ctx is done.
func (m *Manager) waitForConnectivity(ctx context.Context) bool {
	changes := m.oracle.Changes()
	for {
		if m.oracle.IsReachable(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-changes:
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (m *Manager) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
