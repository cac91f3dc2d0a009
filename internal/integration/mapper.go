package integration

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
)

// Event types carried in the event_type header.
const (
	EventMovementPosted        = "movement.posted"
	EventAlertOpened           = "alert.opened"
	EventAlertResolved         = "alert.resolved"
	EventAlertUpdated          = "alert.updated"
	EventTransferStatusChanged = "transfer.status_changed"
	headerEventType            = "event_type"
	headerEventID              = "event_id"
)

// stockKey keeps every event of one stock unit on one partition.
func stockKey(productID, warehouseID int64) string {
	return fmt.Sprintf("product:%d:warehouse:%d", productID, warehouseID)
}

// eventID is derived from the source row so redeliveries carry the same id.
func eventID(kind string, parts ...any) string {
	return uuid.NewSHA1(uuid.Nil, []byte(kind+fmt.Sprint(parts...))).String()
}

func alertEventType(evt inventory.AlertChangedEvent) string {
	switch {
	case evt.Opened:
		return EventAlertOpened
	case evt.Alert.Status == inventory.AlertResolved:
		return EventAlertResolved
	default:
		return EventAlertUpdated
	}
}

func message(topic, key, eventType, id string, payload any) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("integration: marshal %s: %w", eventType, err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(eventType)},
			{Key: []byte(headerEventID), Value: []byte(id)},
		},
	}, nil
}

func movementMessage(topic string, evt inventory.MovementPostedEvent) (*sarama.ProducerMessage, error) {
	m := evt.Movement
	return message(topic, stockKey(m.ProductID, m.WarehouseID), EventMovementPosted,
		eventID("MOVEMENT:", m.ID), evt)
}

func alertMessage(topic string, evt inventory.AlertChangedEvent) (*sarama.ProducerMessage, error) {
	a := evt.Alert
	eventType := alertEventType(evt)
	return message(topic, stockKey(a.ProductID, a.WarehouseID), eventType,
		eventID("ALERT:", a.ID, ":", eventType), evt)
}

func transferMessage(topic string, evt transfer.StatusChangedEvent) (*sarama.ProducerMessage, error) {
	return message(topic, fmt.Sprintf("transfer:%d", evt.TransferID), EventTransferStatusChanged,
		eventID("TRANSFER:", evt.TransferID, ":", evt.Action, ":", evt.ChangedAt.UnixNano()), evt)
}
