package types

// Lifecycle event names broadcast on the bus.
const (
	EventEntityCreated  = "entity:created"
	EventEntityUpdated  = "entity:updated"
	EventEntityDeleted  = "entity:deleted"
	EventEmbeddingReady = "entity:embedding:ready"
)

// Event is a lifecycle notification. Entity is populated for created,
// updated and embedding:ready events; deleted events carry only the key.
type Event struct {
	Type       string  `json:"type"`
	EntityType string  `json:"entityType"`
	EntityID   string  `json:"entityId"`
	Entity     *Entity `json:"entity,omitempty"`
}
