package domain

import "time"

// Event bus topics.
const (
	EventSyncBlobStored   = "syncblob:stored"
	EventSyncBlobConflict = "syncblob:conflict"
	EventDocumentWritten  = "document:written"
	EventDocumentDeleted  = "document:deleted"
	EventOrphanSweepDone  = "maintenance:sweep_done"
)

// EventPayload travels over the internal event bus and is fanned out to
// subscribers (log, SSE stream).
type EventPayload struct {
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
