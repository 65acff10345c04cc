package services

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/logging"
	"github.com/fieldline/casesync/internal/server/models"
	"github.com/fieldline/casesync/internal/server/spool"
	"github.com/fieldline/casesync/internal/server/storage"
)

type memCaseRepo struct {
	cases  map[string]*models.Case
	blobs  map[string]*models.Blob
	nextID int64
}

func newMemCaseRepo() *memCaseRepo {
	return &memCaseRepo{cases: map[string]*models.Case{}, blobs: map[string]*models.Blob{}}
}

func blobKey(caseGUID, elementID string) string { return caseGUID + "/" + elementID }

func (r *memCaseRepo) UpsertCase(ctx context.Context, c *models.Case) error {
	r.cases[c.GUID] = c
	return nil
}

func (r *memCaseRepo) GetCase(ctx context.Context, guid string) (*models.Case, error) {
	c, ok := r.cases[guid]
	if !ok {
		return nil, common.ErrNotFound
	}
	return c, nil
}

func (r *memCaseRepo) UpsertBlob(ctx context.Context, caseGUID, elementID string, size int64) (*models.Blob, error) {
	key := blobKey(caseGUID, elementID)
	if b, ok := r.blobs[key]; ok {
		b.Size = size
		copied := *b
		return &copied, nil
	}
	r.nextID++
	b := &models.Blob{ID: r.nextID, CaseGUID: caseGUID, ElementID: elementID, Size: size}
	r.blobs[key] = b
	copied := *b
	return &copied, nil
}

func (r *memCaseRepo) SetBlobReceived(ctx context.Context, id int64, received int64) error {
	for _, b := range r.blobs {
		if b.ID == id {
			b.Received = received
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *memCaseRepo) CompleteBlob(ctx context.Context, id int64, archiveKey string) error {
	for _, b := range r.blobs {
		if b.ID == id {
			b.Complete = true
			b.Received = b.Size
			b.ArchiveKey = archiveKey
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *memCaseRepo) ListBlobs(ctx context.Context, caseGUID string) ([]*models.Blob, error) {
	var result []*models.Blob
	for _, b := range r.blobs {
		if b.CaseGUID == caseGUID {
			copied := *b
			result = append(result, &copied)
		}
	}
	return result, nil
}

type memNotifRepo struct {
	parts  []*models.NotificationPart
	nextID int64
}

func (r *memNotifRepo) AddParts(ctx context.Context, parts []*models.NotificationPart) error {
	for _, p := range parts {
		r.nextID++
		p.ID = r.nextID
		r.parts = append(r.parts, p)
	}
	return nil
}

func (r *memNotifRepo) ListAfter(ctx context.Context, cursor int64, limit int) ([]*models.NotificationPart, error) {
	var result []*models.NotificationPart
	for _, p := range r.parts {
		if p.ID > cursor && len(result) < limit {
			result = append(result, p)
		}
	}
	return result, nil
}

type caseFixture struct {
	repo        *memCaseRepo
	notifs      *memNotifRepo
	service     *CaseService
	archiveRoot string
}

func newCaseFixture(t *testing.T) *caseFixture {
	t.Helper()

	sp, err := spool.New(t.TempDir())
	require.NoError(t, err)

	archiveRoot := t.TempDir()
	archiver, err := storage.NewFSArchiver(archiveRoot)
	require.NoError(t, err)

	repo := newMemCaseRepo()
	notifs := &memNotifRepo{}
	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))

	return &caseFixture{
		repo:        repo,
		notifs:      notifs,
		service:     NewCaseService(repo, notifs, sp, archiver, 40, logger),
		archiveRoot: archiveRoot,
	}
}

func TestAcceptText_StoresCase(t *testing.T) {
	f := newCaseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AcceptText(ctx, "g1", "chw-017", []byte(`{"answers":[]}`)))

	c, err := f.repo.GetCase(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "chw-017", c.UploadedBy)

	assert.ErrorIs(t, f.service.AcceptText(ctx, "g1", "chw-017", nil), common.ErrContentRejected)
}

func TestAcceptChunk_AssemblesAndArchives(t *testing.T) {
	f := newCaseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AcceptText(ctx, "g1", "chw-017", []byte("{}")))

	ack, err := f.service.AcceptChunk(ctx, "g1", "e1", 0, 11, []byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, int64(6), ack)

	ack, err = f.service.AcceptChunk(ctx, "g1", "e1", 6, 11, []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), ack)

	// assembled bytes are in the archive
	data, err := os.ReadFile(filepath.Join(f.archiveRoot, "cases", "g1", "e1"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	// completion announced on the notification feed
	require.NotEmpty(t, f.notifs.parts)
	assert.Equal(t, "g1", f.notifs.parts[0].CaseGUID)
}

func TestAcceptChunk_OffsetMismatchReportsServerProgress(t *testing.T) {
	f := newCaseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AcceptText(ctx, "g1", "chw-017", []byte("{}")))

	_, err := f.service.AcceptChunk(ctx, "g1", "e1", 0, 20, []byte("aaaaa"))
	require.NoError(t, err)

	// client thinks it is further along than the server
	ack, err := f.service.AcceptChunk(ctx, "g1", "e1", 10, 20, []byte("bbbbb"))
	assert.ErrorIs(t, err, common.ErrBadChunkOffset)
	assert.Equal(t, int64(5), ack)
}

func TestAcceptChunk_DuplicateFinalChunk(t *testing.T) {
	f := newCaseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AcceptText(ctx, "g1", "chw-017", []byte("{}")))

	_, err := f.service.AcceptChunk(ctx, "g1", "e1", 0, 5, []byte("abcde"))
	require.NoError(t, err)

	// response was lost, the client resends; the server just re-acks
	ack, err := f.service.AcceptChunk(ctx, "g1", "e1", 0, 5, []byte("abcde"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), ack)
}

func TestAcceptChunk_RejectsBadGeometry(t *testing.T) {
	f := newCaseFixture(t)
	ctx := context.Background()

	_, err := f.service.AcceptChunk(ctx, "g1", "e1", 0, 0, []byte("x"))
	assert.ErrorIs(t, err, common.ErrContentRejected)

	_, err = f.service.AcceptChunk(ctx, "g1", "e1", 8, 10, []byte("xxx"))
	assert.ErrorIs(t, err, common.ErrContentRejected)
}

func TestNotifications_CursorAdvances(t *testing.T) {
	f := newCaseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AcceptText(ctx, "g1", "chw-017", []byte("{}")))
	_, err := f.service.AcceptChunk(ctx, "g1", "e1", 0, 3, []byte("abc"))
	require.NoError(t, err)

	parts, next, err := f.service.Notifications(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, parts)
	require.NotEmpty(t, next)

	// same cursor again: nothing new, cursor stays put
	again, next2, err := f.service.Notifications(ctx, next)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, next, next2)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{""}, splitMessage("", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"aaaa", "bbbb", "cc"}, splitMessage("aaaabbbbcc", 4))
}
