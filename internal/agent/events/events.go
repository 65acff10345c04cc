// Package events defines the closed taxonomy of sync telemetry events and a
// fire-and-forget sink. Emission must never block or slow the sync workers;
// a slow consumer loses events rather than stalling an upload.
package events

import "time"

// Kind identifies one telemetry event type. The string values are part of
// the external contract with the event consumer and must stay stable.
type Kind string

const (
	UploadStart Kind = "MDS_UPLOAD_START"

	UploadCaseStart  Kind = "MDS_UPLOAD_PROCEDURE_START"
	UploadCaseFinish Kind = "MDS_UPLOAD_PROCEDURE_FINISH"
	UploadCaseFailed Kind = "MDS_UPLOAD_PROCEDURE_FAILED"

	UploadBinaryStart  Kind = "MDS_UPLOAD_BINARY_START"
	UploadBinaryFinish Kind = "MDS_UPLOAD_BINARY_FINISH"
	UploadBinaryFailed Kind = "MDS_UPLOAD_BINARY_FAILED"

	UploadChunkStart  Kind = "MDS_UPLOAD_BINARY_CHUNK_START"
	UploadChunkFinish Kind = "MDS_UPLOAD_BINARY_CHUNK_FINISH"
	UploadChunkFailed Kind = "MDS_UPLOAD_BINARY_CHUNK_FAILED"

	UploadFailed  Kind = "MDS_UPLOAD_FAILED"
	UploadSuccess Kind = "MDS_UPLOAD_SUCCESS"

	SyncStart  Kind = "MDS_SYNC_START"
	SyncFinish Kind = "MDS_SYNC_FINISH"
	SyncFailed Kind = "MDS_SYNC_FAILED"

	CredentialsValidated Kind = "MDS_CREDENTIALS_VALIDATED"
)

// Event is one telemetry observation. Detail carries raw error text for
// failure kinds; it is never shown to the user directly.
type Event struct {
	Kind       Kind
	RecordGUID string
	ElementID  string
	Detail     string
	At         time.Time
}

// Sink consumes events. Implementations must not block the caller.
type Sink interface {
	Emit(e Event)
}
