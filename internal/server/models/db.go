// Package models defines the dispatch server's persistence types.
package models

import "time"

// User is an account allowed to upload cases. Salt and Verifier back the
// constant-time credential check; the password itself is never stored.
type User struct {
	ID       string
	Username string
	Salt     []byte
	Verifier []byte
}

// Case is one uploaded record: the text payload plus bookkeeping.
type Case struct {
	GUID       string
	PatientID  string
	Payload    []byte
	UploadedBy string
	ReceivedAt time.Time
}

// Blob tracks one attachment transfer. Received is the acknowledged byte
// count; until it reaches Size the bytes live in the spool, afterwards under
// ArchiveKey in the object store.
type Blob struct {
	ID         int64
	CaseGUID   string
	ElementID  string
	Size       int64
	Received   int64
	Complete   bool
	ArchiveKey string
}

// NotificationPart is one outbound message fragment, identified by a dense
// serial ID that doubles as the poll cursor.
type NotificationPart struct {
	ID             int64
	NotificationID string
	CaseGUID       string
	PatientID      string
	Index          int
	Total          int
	Body           string
}
