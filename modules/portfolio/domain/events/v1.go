package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicPortfolioChangedV1 = "portfolio.changed.v1"
	TopicPositionChangedV1  = "position.changed.v1"
	EventVersionV1          = 1
)

const (
	ChangeAdded     = "ADDED"
	ChangeChanged   = "CHANGED"
	ChangeCorrected = "CORRECTED"
	ChangeRemoved   = "REMOVED"
)

// ChangeEventV1 announces one committed write. BeforeID is empty for ADDED and
// AfterID is empty for REMOVED. Diff is an RFC 6902 patch from the before to the
// after document, present for CHANGED and CORRECTED.
type ChangeEventV1 struct {
	EventID        uuid.UUID       `json:"event_id"`
	EventVersion   int             `json:"event_version"`
	Topic          string          `json:"topic"`
	RequestID      string          `json:"request_id,omitempty"`
	ChangeType     string          `json:"change_type"`
	EntityType     string          `json:"entity_type"`
	ObjectID       string          `json:"object_id"`
	BeforeID       string          `json:"before_id,omitempty"`
	AfterID        string          `json:"after_id,omitempty"`
	VersionFrom    time.Time       `json:"version_from"`
	VersionInstant time.Time       `json:"version_instant"`
	Diff           json.RawMessage `json:"diff,omitempty"`
}
