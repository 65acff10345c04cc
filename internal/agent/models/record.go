// Package models defines the record, attachment and notification types the
// agent persists locally and schedules for upload.
package models

import "time"

// PositionNone is the queue_position sentinel for records that are not queued.
const PositionNone = -1

// Record is one locally captured case. Payload is the serialized structured
// answers, opaque to the sync engine. Uploaded refers to the text payload
// only; attachment completion is tracked per attachment.
type Record struct {
	GUID          string
	PatientID     string
	Payload       []byte
	Finished      bool
	Uploaded      bool
	QueueStatus   QueueStatus
	QueuePosition int

	// CancelRequested marks a dequeue issued while the record was mid-transfer.
	// Persisted so a worker in another process sees it at the next chunk
	// boundary.
	CancelRequested bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attachment is one binary resource (image or audio) owned by exactly one
// record. UploadProgress counts bytes acknowledged by the dispatch server,
// never bytes merely sent. An attachment with FileValid false has not been
// fully written locally and must never be scheduled for transfer.
type Attachment struct {
	ID             int64
	RecordGUID     string
	ElementID      string
	Path           string
	Size           int64
	UploadProgress int64
	Uploaded       bool
	FileValid      bool
}

// PendingUpload reports whether the attachment still needs transfer work.
func (a *Attachment) PendingUpload() bool {
	return a.FileValid && !a.Uploaded
}
