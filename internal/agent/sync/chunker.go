package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fieldline/casesync/internal/agent/events"
	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/agent/models"
	"github.com/fieldline/casesync/internal/agent/repositories/attachments"
	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/logging"
)

const (
	minChunkSize = 4 << 10 // 4 KiB
	maxChunkSize = 1 << 20 // 1 MiB
)

// ChunkedUploader moves one attachment's bytes to the dispatch server as a
// sequence of bounded chunks, strictly in offset order, resuming from the
// last server-acknowledged offset. Progress is persisted only after the
// server acknowledges a byte range, so a crash or exhausted retry never
// records bytes the server may not have.
type ChunkedUploader struct {
	channel     mds.Channel
	attachRepo  attachments.Repository
	sink        events.Sink
	logger      logging.Logger
	bandwidth   int64         // estimated bytes/sec
	chunkTarget time.Duration // wanted duration of one chunk transfer
	retryMax    uint64        // attempts per chunk beyond the first
	retryBase   time.Duration // backoff base delay
	retryCap    time.Duration // backoff ceiling

	// ProgressFunc, when set, observes every server-acknowledged offset.
	ProgressFunc func(a *models.Attachment, acknowledged int64)
}

// NewChunkedUploader builds an uploader. bandwidthBytesPerSec scales the
// chunk size: slow links get smaller chunks so one failed chunk costs less.
func NewChunkedUploader(channel mds.Channel, attachRepo attachments.Repository,
	bandwidthBytesPerSec int64, chunkTarget time.Duration,
	retryMax int, retryBase time.Duration,
	sink events.Sink, logger logging.Logger) *ChunkedUploader {

	if bandwidthBytesPerSec <= 0 {
		bandwidthBytesPerSec = 1024
	}
	if chunkTarget <= 0 {
		chunkTarget = 5 * time.Second
	}
	if retryMax <= 0 {
		retryMax = 3
	}
	if retryBase <= 0 {
		retryBase = time.Second
	}
	return &ChunkedUploader{
		channel:     channel,
		attachRepo:  attachRepo,
		sink:        sink,
		logger:      logger.With("component", "chunker"),
		bandwidth:   bandwidthBytesPerSec,
		chunkTarget: chunkTarget,
		retryMax:    uint64(retryMax),
		retryBase:   retryBase,
		retryCap:    10 * time.Second,
	}
}

// ChunkSize derives the chunk size from the bandwidth estimate, targeting a
// constant transfer duration per chunk, clamped to sane bounds.
func (u *ChunkedUploader) ChunkSize() int64 {
	size := u.bandwidth * int64(u.chunkTarget/time.Second)
	if size < minChunkSize {
		return minChunkSize
	}
	if size > maxChunkSize {
		return maxChunkSize
	}
	return size
}

// Upload transfers the attachment from its current acknowledged offset to
// completion. cancelled is polled between chunks; when it reports true the
// transfer stops at the chunk boundary and common.ErrCancelled is returned.
//
// Error classification for the caller: common.ErrNoConnection (wrapped)
// means transient, retry later from the same offset; common.ErrContentRejected
// means the server refused the content; anything else is a local error.
func (u *ChunkedUploader) Upload(ctx context.Context, a *models.Attachment, cancelled func() bool) error {
	if !a.FileValid {
		return fmt.Errorf("attachment %d: local file not finalized", a.ID)
	}

	u.sink.Emit(events.Event{Kind: events.UploadBinaryStart, RecordGUID: a.RecordGUID, ElementID: a.ElementID})

	f, err := os.Open(a.Path)
	if err != nil {
		u.sink.Emit(events.Event{Kind: events.UploadBinaryFailed, RecordGUID: a.RecordGUID, ElementID: a.ElementID, Detail: err.Error()})
		return fmt.Errorf("open attachment file: %w", err)
	}
	defer f.Close()

	offset := a.UploadProgress
	chunkSize := u.ChunkSize()
	buf := make([]byte, chunkSize)

	for offset < a.Size {
		if cancelled != nil && cancelled() {
			return common.ErrCancelled
		}

		if err := u.sendChunk(ctx, f, a, &offset, buf); err != nil {
			u.sink.Emit(events.Event{Kind: events.UploadBinaryFailed, RecordGUID: a.RecordGUID, ElementID: a.ElementID, Detail: err.Error()})
			return err
		}
	}

	if err := u.attachRepo.MarkUploaded(ctx, a.ID); err != nil {
		return fmt.Errorf("mark attachment uploaded: %w", err)
	}
	a.Uploaded = true
	a.UploadProgress = a.Size

	u.sink.Emit(events.Event{Kind: events.UploadBinaryFinish, RecordGUID: a.RecordGUID, ElementID: a.ElementID})
	return nil
}

// sendChunk transfers the chunk starting at *offset, with bounded retry and
// backoff. On success *offset advances to the server-acknowledged offset and
// the new progress is persisted. On a bad_offset response the server's
// acknowledged offset wins: local progress is authoritative only up to the
// last acknowledged chunk.
func (u *ChunkedUploader) sendChunk(ctx context.Context, f *os.File, a *models.Attachment, offset *int64, buf []byte) error {
	backoff := retry.WithCappedDuration(u.retryCap, retry.NewExponential(u.retryBase))
	backoff = retry.WithMaxRetries(u.retryMax, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		want := int64(len(buf))
		if remaining := a.Size - *offset; remaining < want {
			want = remaining
		}
		chunk := buf[:want]
		if _, err := f.ReadAt(chunk, *offset); err != nil {
			return fmt.Errorf("read chunk at %d: %w", *offset, err)
		}

		u.sink.Emit(events.Event{Kind: events.UploadChunkStart, RecordGUID: a.RecordGUID, ElementID: a.ElementID})

		result, err := u.channel.UploadChunk(ctx, a.RecordGUID, a.ElementID, *offset, a.Size, chunk)
		if err != nil {
			// transport failure: same offset, next attempt
			u.sink.Emit(events.Event{Kind: events.UploadChunkFailed, RecordGUID: a.RecordGUID, ElementID: a.ElementID, Detail: err.Error()})
			return retry.RetryableError(err)
		}

		if result.Failed() {
			u.sink.Emit(events.Event{Kind: events.UploadChunkFailed, RecordGUID: a.RecordGUID, ElementID: a.ElementID, Detail: result.Code})

			if result.Code == mds.CodeBadOffset {
				if ack, ok := mds.AckOffset(result); ok && ack < *offset {
					u.logger.Warn(ctx, "server acknowledged less than local progress, rewinding",
						"attachment", a.ID, "local", *offset, "server", ack)
					*offset = ack
				}
				return retry.RetryableError(errors.New("chunk offset rejected"))
			}
			return fmt.Errorf("%w: %s", common.ErrContentRejected, result.Code)
		}

		ack, ok := mds.AckOffset(result)
		if !ok || ack < *offset {
			return retry.RetryableError(fmt.Errorf("chunk accepted without usable offset"))
		}

		if err := u.attachRepo.SetProgress(ctx, a.ID, ack); err != nil {
			return fmt.Errorf("persist progress: %w", err)
		}
		*offset = ack
		a.UploadProgress = ack

		u.sink.Emit(events.Event{Kind: events.UploadChunkFinish, RecordGUID: a.RecordGUID, ElementID: a.ElementID})
		if u.ProgressFunc != nil {
			u.ProgressFunc(a, ack)
		}
		return nil
	})
}
