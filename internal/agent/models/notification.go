package models

import (
	"sort"
	"strings"
)

// NotificationMessage accumulates the numbered parts of one server-side
// notification until all parts have been seen. Parts may arrive out of order
// and may be re-delivered by later polls; accumulation is idempotent, keyed
// by part index.
type NotificationMessage struct {
	NotificationID   string
	RecordGUID       string
	PatientID        string
	ReceivedMessages int
	TotalMessages    int
	Messages         map[int]string
}

// NewNotificationMessage creates an empty accumulator for one notification id.
func NewNotificationMessage(id, recordGUID, patientID string, total int) *NotificationMessage {
	return &NotificationMessage{
		NotificationID: id,
		RecordGUID:     recordGUID,
		PatientID:      patientID,
		TotalMessages:  total,
		Messages:       map[int]string{},
	}
}

// AddPart records the part at the given 1-based index. A part index seen
// before is ignored, so duplicate deliveries never double-count. Returns
// true if the part was new.
func (m *NotificationMessage) AddPart(index int, text string) bool {
	if _, seen := m.Messages[index]; seen {
		return false
	}
	m.Messages[index] = text
	m.ReceivedMessages++
	return true
}

// Complete reports whether every declared part has been received.
func (m *NotificationMessage) Complete() bool {
	return m.TotalMessages > 0 && m.ReceivedMessages == m.TotalMessages
}

// Assemble concatenates the parts in ascending index order.
func (m *NotificationMessage) Assemble() string {
	indexes := make([]int, 0, len(m.Messages))
	for i := range m.Messages {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var b strings.Builder
	for _, i := range indexes {
		b.WriteString(m.Messages[i])
	}
	return b.String()
}
