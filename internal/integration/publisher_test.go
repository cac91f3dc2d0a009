package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
)

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	t.Helper()
	producer := mocks.NewSyncProducer(t, ProducerConfig("test"))
	t.Cleanup(func() { _ = producer.Close() })
	return producer
}

func TestMovementPostedIsKeyedByStockUnit(t *testing.T) {
	producer := newMockProducer(t)
	var seen *sarama.ProducerMessage
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		seen = msg
		return nil
	})
	pub := NewPublisher(producer, TopicsWithPrefix("ledger."), nil)

	evt := inventory.MovementPostedEvent{
		Movement:  inventory.Movement{ID: 12, ProductID: 3, WarehouseID: 4, Type: inventory.MovementSale, Quantity: decimal.NewFromInt(-2)},
		OnHand:    decimal.NewFromInt(8),
		Available: decimal.NewFromInt(8),
		PostedAt:  time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.MovementPosted(context.Background(), evt))

	require.NotNil(t, seen)
	require.Equal(t, "ledger.movements", seen.Topic)
	key, err := seen.Key.Encode()
	require.NoError(t, err)
	require.Equal(t, "product:3:warehouse:4", string(key))
	require.Equal(t, EventMovementPosted, header(seen, headerEventType))
	require.Equal(t, eventID("MOVEMENT:", int64(12)), header(seen, headerEventID))

	raw, err := seen.Value.Encode()
	require.NoError(t, err)
	var decoded inventory.MovementPostedEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, int64(12), decoded.Movement.ID)
	require.True(t, decoded.OnHand.Equal(decimal.NewFromInt(8)))
}

func TestAlertEventTypes(t *testing.T) {
	cases := []struct {
		name string
		evt  inventory.AlertChangedEvent
		want string
	}{
		{"opened", inventory.AlertChangedEvent{Opened: true, Alert: inventory.LowStockAlert{ID: 1, Status: inventory.AlertOpen}}, EventAlertOpened},
		{"resolved", inventory.AlertChangedEvent{Alert: inventory.LowStockAlert{ID: 1, Status: inventory.AlertResolved}}, EventAlertResolved},
		{"acknowledged", inventory.AlertChangedEvent{Alert: inventory.LowStockAlert{ID: 1, Status: inventory.AlertAcknowledged}}, EventAlertUpdated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			producer := newMockProducer(t)
			producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				if msg.Topic != "stockledger.alerts" {
					return errors.New("wrong topic " + msg.Topic)
				}
				if got := header(msg, headerEventType); got != tc.want {
					return errors.New("wrong event type " + got)
				}
				return nil
			})
			pub := NewPublisher(producer, TopicsWithPrefix(""), nil)
			require.NoError(t, pub.AlertChanged(context.Background(), tc.evt))
		})
	}
}

func TestTransferEventKeyedByTransfer(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "transfer:9" || msg.Topic != "stockledger.transfers" {
			return errors.New("unexpected routing")
		}
		return nil
	})
	pub := NewPublisher(producer, TopicsWithPrefix("stockledger"), nil)
	require.NoError(t, pub.TransferStatusChanged(context.Background(), transfer.StatusChangedEvent{
		TransferID: 9, Code: "TRF-1", Action: transfer.ActionShip, From: transfer.StatusPending, To: transfer.StatusInTransit,
	}))
}

func TestSendFailureIsReturned(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	pub := NewPublisher(producer, TopicsWithPrefix("x"), nil)

	err := pub.MovementPosted(context.Background(), inventory.MovementPostedEvent{Movement: inventory.Movement{ID: 1}})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestCancelledContextSkipsSend(t *testing.T) {
	producer := newMockProducer(t)
	pub := NewPublisher(producer, TopicsWithPrefix("x"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pub.MovementPosted(ctx, inventory.MovementPostedEvent{}), context.Canceled)
}
