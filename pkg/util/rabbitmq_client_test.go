package util

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pershinghar/webcam-relay/pkg/models"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func TestNewRabbitMQClientDefaults(t *testing.T) {
	client := NewRabbitMQClient(&models.RabbitMQConfig{})
	if client.config.Exchange != "webcam-events" {
		t.Errorf("Exchange = %q, want webcam-events", client.config.Exchange)
	}
	if client.config.ExchangeType != "fanout" {
		t.Errorf("ExchangeType = %q, want fanout", client.config.ExchangeType)
	}
	if client.config.Durable {
		t.Error("an explicit zero config must keep Durable = false")
	}
	if !NewRabbitMQClient(nil).config.Durable {
		t.Error("nil config: Durable = false, want the durable default")
	}
}

func TestPublishRequiresConnect(t *testing.T) {
	client := NewRabbitMQClient(nil)
	err := client.Publish(context.Background(), &models.CycleEvent{Kind: models.EventCycleStarted})
	if err == nil {
		t.Error("Publish before Connect succeeded")
	}
	if _, err := client.CreateQueue(context.Background()); err == nil {
		t.Error("CreateQueue before Connect succeeded")
	}
}

func TestConnectExpiredContext(t *testing.T) {
	client := NewRabbitMQClient(nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if err := client.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect = %v, want deadline exceeded", err)
	}
}

func TestHandleDelivery(t *testing.T) {
	event := models.CycleEvent{
		CycleID:   "c-1",
		Kind:      models.EventImagePosted,
		Camera:    "east",
		Path:      "public_html/webcams/east.jpg",
		Timestamp: time.Date(2019, time.April, 12, 9, 5, 7, 0, time.UTC),
	}
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		body        []byte
		handlerErr  error
		wantAck     bool
		wantRequeue bool
	}{
		{name: "handled", body: body, wantAck: true},
		{name: "handler error requeues", body: body, handlerErr: errors.New("busy"), wantRequeue: true},
		{name: "malformed dropped", body: []byte("{not json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			var got *models.CycleEvent
			handleDelivery(amqp.Delivery{Acknowledger: ack, Body: tt.body}, func(e *models.CycleEvent) error {
				got = e
				return tt.handlerErr
			})

			if ack.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", ack.acked, tt.wantAck)
			}
			if !tt.wantAck && !ack.nacked {
				t.Error("delivery neither acked nor nacked")
			}
			if ack.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
			if tt.wantAck && (got == nil || got.Camera != "east" || got.Kind != models.EventImagePosted) {
				t.Errorf("handler got %+v", got)
			}
		})
	}
}
