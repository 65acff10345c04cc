package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/logging"
	"github.com/fieldline/casesync/internal/server/models"
	"github.com/fieldline/casesync/internal/server/repositories/cases"
	"github.com/fieldline/casesync/internal/server/repositories/notifications"
	"github.com/fieldline/casesync/internal/server/spool"
	"github.com/fieldline/casesync/internal/server/storage"
)

const notificationPageSize = 100

// CaseService is the intake pipeline: it accepts case payloads, assembles
// attachment chunks in the spool, archives completed attachments, and feeds
// the notification queue clients poll.
type CaseService struct {
	cases     cases.Repository
	notifs    notifications.Repository
	spool     *spool.Spool
	archiver  storage.Archiver
	partLimit int
	logger    logging.Logger
}

// NewCaseService wires the intake pipeline.
func NewCaseService(caseRepo cases.Repository, notifRepo notifications.Repository,
	sp *spool.Spool, archiver storage.Archiver, partLimit int, logger logging.Logger) *CaseService {

	if partLimit <= 0 {
		partLimit = 120
	}
	return &CaseService{
		cases:     caseRepo,
		notifs:    notifRepo,
		spool:     sp,
		archiver:  archiver,
		partLimit: partLimit,
		logger:    logger.With("component", "cases"),
	}
}

// AcceptText stores a case's text payload. Re-uploads overwrite.
func (s *CaseService) AcceptText(ctx context.Context, guid, username string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", common.ErrContentRejected)
	}
	err := s.cases.UpsertCase(ctx, &models.Case{GUID: guid, Payload: payload, UploadedBy: username})
	if err != nil {
		return fmt.Errorf("store case: %w", err)
	}
	s.logger.Info(ctx, "case payload stored", "guid", guid, "bytes", len(payload), "user", username)
	return nil
}

// AcceptChunk ingests one attachment chunk. The returned offset is the
// server's acknowledged byte count after the call; on an offset mismatch it
// is returned alongside common.ErrBadChunkOffset so the client can rewind.
func (s *CaseService) AcceptChunk(ctx context.Context, guid, elementID string, offset, total int64, data []byte) (int64, error) {
	if total <= 0 || len(data) == 0 || offset < 0 || offset+int64(len(data)) > total {
		return 0, fmt.Errorf("%w: inconsistent chunk geometry", common.ErrContentRejected)
	}

	blob, err := s.cases.UpsertBlob(ctx, guid, elementID, total)
	if err != nil {
		return 0, fmt.Errorf("register blob: %w", err)
	}

	if blob.Complete {
		// duplicate of the final chunk after a lost response
		return blob.Size, nil
	}
	if offset != blob.Received {
		return blob.Received, common.ErrBadChunkOffset
	}

	if err := s.spool.WriteAt(guid, elementID, offset, data); err != nil {
		return blob.Received, fmt.Errorf("spool chunk: %w", err)
	}

	received := offset + int64(len(data))
	if received < total {
		if err := s.cases.SetBlobReceived(ctx, blob.ID, received); err != nil {
			return blob.Received, fmt.Errorf("record progress: %w", err)
		}
		return received, nil
	}

	if err := s.archiveBlob(ctx, blob, guid, elementID, total); err != nil {
		return blob.Received, err
	}
	return received, nil
}

// archiveBlob moves the fully spooled attachment into the object store and
// announces the completion on the notification feed.
func (s *CaseService) archiveBlob(ctx context.Context, blob *models.Blob, guid, elementID string, total int64) error {
	f, err := s.spool.Open(guid, elementID)
	if err != nil {
		return fmt.Errorf("open spooled blob: %w", err)
	}
	defer f.Close()

	key := storage.ArchiveKey(guid, elementID)
	if err := s.archiver.Store(ctx, key, f, total); err != nil {
		return fmt.Errorf("archive blob: %w", err)
	}
	if err := s.cases.CompleteBlob(ctx, blob.ID, key); err != nil {
		return fmt.Errorf("complete blob: %w", err)
	}
	if err := s.spool.Remove(guid, elementID); err != nil {
		s.logger.Warn(ctx, "spool cleanup failed", "guid", guid, "element", elementID, "error", err)
	}

	s.logger.Info(ctx, "attachment archived", "guid", guid, "element", elementID, "key", key)

	msg := fmt.Sprintf("attachment %s for case %s received (%d bytes)", elementID, guid, total)
	if err := s.publishNotification(ctx, guid, msg); err != nil {
		// the upload itself succeeded; the feed entry is best-effort
		s.logger.Warn(ctx, "notification publish failed", "guid", guid, "error", err)
	}
	return nil
}

// publishNotification splits msg into bounded parts and appends them to the
// feed under one notification id.
func (s *CaseService) publishNotification(ctx context.Context, guid, msg string) error {
	c, err := s.cases.GetCase(ctx, guid)
	if err != nil {
		return fmt.Errorf("load case: %w", err)
	}

	bodies := splitMessage(msg, s.partLimit)
	notificationID := uuid.New().String()

	parts := make([]*models.NotificationPart, len(bodies))
	for i, body := range bodies {
		parts[i] = &models.NotificationPart{
			NotificationID: notificationID,
			CaseGUID:       guid,
			PatientID:      c.PatientID,
			Index:          i + 1,
			Total:          len(bodies),
			Body:           body,
		}
	}
	return s.notifs.AddParts(ctx, parts)
}

// splitMessage cuts msg into limit-sized pieces, at least one.
func splitMessage(msg string, limit int) []string {
	if msg == "" {
		return []string{""}
	}
	var parts []string
	for len(msg) > limit {
		parts = append(parts, msg[:limit])
		msg = msg[limit:]
	}
	return append(parts, msg)
}

// Notifications returns up to one page of parts after cursor, plus the next
// cursor. An empty or malformed cursor starts from the beginning.
func (s *CaseService) Notifications(ctx context.Context, cursor string) ([]*models.NotificationPart, string, error) {
	after, _ := strconv.ParseInt(cursor, 10, 64)

	parts, err := s.notifs.ListAfter(ctx, after, notificationPageSize)
	if err != nil {
		return nil, "", fmt.Errorf("list notification parts: %w", err)
	}

	next := cursor
	if len(parts) > 0 {
		next = strconv.FormatInt(parts[len(parts)-1].ID, 10)
	}
	return parts, next, nil
}
