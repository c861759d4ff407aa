package changes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestPublisher_SendsKeyedJSON(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, ProducerConfig())
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "feature-changes" {
			return fmt.Errorf("topic %q", m.Topic)
		}
		k, err := m.Key.Encode()
		if err != nil {
			return err
		}
		if string(k) != "roads/roads.7" {
			return fmt.Errorf("key %q", k)
		}
		v, err := m.Value.Encode()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return err
		}
		if ev.Op != "delete" || ev.TypeName != "topp:roads" {
			return fmt.Errorf("event %+v", ev)
		}
		return nil
	})

	p := NewPublisher(discard(), prod, "feature-changes", 4)
	if !p.Publish(Event{Layer: "roads", TypeName: "topp:roads", Op: "delete", ID: "roads.7", TS: time.Now()}) {
		t.Fatal("publish dropped")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// second close is a no-op
	if err := p.Close(); err != nil {
		t.Fatalf("close twice: %v", err)
	}
}

func TestPublisher_ProducerErrorsAreDrained(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, ProducerConfig())
	prod.ExpectInputAndFail(errors.New("broker down"))
	prod.ExpectInputAndSucceed()

	p := NewPublisher(discard(), prod, "t", 4)
	p.Publish(Event{Layer: "a", Op: "insert"})
	p.Publish(Event{Layer: "b", Op: "insert"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	p := &Publisher{events: make(chan Event, 1)}
	if !p.Publish(Event{Layer: "a"}) {
		t.Fatal("first publish should fit")
	}
	if p.Publish(Event{Layer: "b"}) {
		t.Fatal("second publish should drop")
	}
}

func TestNewKafkaPublisher_NoBrokers(t *testing.T) {
	if _, err := NewKafkaPublisher(discard(), " , ", "t", 1); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}

func TestEventKey(t *testing.T) {
	if k := (Event{Layer: "roads"}).Key(); k != "roads" {
		t.Fatalf("key got %q", k)
	}
}
