package enrichment

import (
	"strconv"
	"time"
)

// Event types published after a batch is persisted.
const (
	EventItemEnriched = "item.enriched"
	EventItemDeleted  = "item.deleted"
)

// Event is the change notification payload.
type Event struct {
	Type   string    `json:"type"`
	ItemID int64     `json:"item_id"`
	At     time.Time `json:"at"`
}

// EventAttributes lets subscribers filter without decoding the body.
func (e Event) EventAttributes() map[string]string {
	return map[string]string{
		"event_type": e.Type,
		"item_id":    strconv.FormatInt(e.ItemID, 10),
	}
}
