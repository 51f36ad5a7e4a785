package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error { return errors.New("sink down") }

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Emit(context.Context, Event) error {
	<-s.release
	return nil
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: fmt.Sprintf("e%d", i)})
	}
	d.Close()

	for i := 0; i < 3; i++ {
		select {
		case ev := <-sink.Events():
			if ev.EventType != fmt.Sprintf("e%d", i) {
				t.Fatalf("event %d = %q", i, ev.EventType)
			}
			if ev.Timestamp.IsZero() {
				t.Fatal("timestamp must be stamped")
			}
		default:
			t.Fatalf("event %d not delivered", i)
		}
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if len(sink.Events()) != 0 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, blockingSink{release: release})

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and a one-slot buffer")
	}
	close(release)
	d.Close()
}

func TestDispatcherCountsSinkFailures(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, failingSink{})
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Emit(context.Background(), Event{EventType: "y"})
	d.Close()
	if d.Failed() != 2 {
		t.Fatalf("failed = %d, want 2", d.Failed())
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 || d.Failed() != 0 {
		t.Fatal("nil dispatcher counters must be zero")
	}
}

func TestZapSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	_ = sink.Emit(context.Background(), Event{EventType: "login_success", UserID: "u1", Success: true})
	_ = sink.Emit(context.Background(), Event{EventType: "login_failure", Reason: "password_mismatch"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["reason"] != "password_mismatch" {
		t.Fatalf("reason field missing: %v", entries[1].ContextMap())
	}
}

func TestKafkaSink(t *testing.T) {
	sc, err := buildSaramaConfig(KafkaConfig{RequiredAcks: "all"})
	if err != nil {
		t.Fatalf("buildSaramaConfig: %v", err)
	}
	producer := mocks.NewSyncProducer(t, sc)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.EventType != "logout" || ev.UserID != "u1" {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkFromProducer(producer, "auth-audit")
	ev := Event{EventType: "logout", UserID: "u1", Success: true, Timestamp: time.Now()}
	if err := sink.Emit(context.Background(), ev); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := sink.Emit(context.Background(), ev); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaConfigValidation(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{Topic: "t"}); err == nil {
		t.Fatal("expected missing brokers to fail")
	}
	if _, err := buildSaramaConfig(KafkaConfig{RequiredAcks: "some"}); err == nil {
		t.Fatal("expected invalid acks to fail")
	}
}
