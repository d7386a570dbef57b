package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	skafka "github.com/segmentio/kafka-go"
)

// fakeWriter is a test writer that records messages written.
type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublish_KeysByShipment(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(),
		Event{Type: ShipmentCombined, ShipmentID: "a", RelatedIDs: []string{"a", "b"}, OccurredAt: now},
		Event{Type: ShipmentRepriced, ShipmentID: "c", Price: 1575, OccurredAt: now},
	)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(fw.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "a" || string(fw.msgs[1].Key) != "c" {
		t.Errorf("keys = %q, %q", fw.msgs[0].Key, fw.msgs[1].Key)
	}

	var got Event
	if err := json.Unmarshal(fw.msgs[1].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != ShipmentRepriced || got.Price != 1575 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestPublish_Empty(t *testing.T) {
	fw := &fakeWriter{}
	if err := NewKafkaPublisherWithWriter(fw).Publish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fw.msgs) != 0 {
		t.Errorf("expected no messages")
	}
}

func TestPublish_WriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: boom})
	if err := p.Publish(context.Background(), Event{Type: ShipmentCreated, ShipmentID: "a"}); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}
