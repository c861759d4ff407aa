package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/ows-codec/internal/cache"
	"github.com/mohammed-shakir/ows-codec/internal/cache/redisstore"
	"github.com/mohammed-shakir/ows-codec/internal/changes"
)

type fakeCache struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	layers    []string
}

func (f *fakeCache) InvalidateLayer(_ context.Context, layer string) error {
	f.mu.Lock()
	f.layers = append(f.layers, layer)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "feature-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(layer string) []byte {
	b, _ := json.Marshal(changes.Event{Layer: layer, TypeName: "topp:" + layer, Op: "update", ID: layer + ".1", TS: time.Now().UTC()})
	return b
}

func newConsumerForTest(c Invalidator) *Consumer {
	return New(NewConfig("x", "feature-changes", "g"), slog.New(slog.DiscardHandler), c)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 10, Value: eventBytes("roads")}
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 11, Value: []byte("not json")}
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 12, Value: eventBytes("ar5")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if diff := cmp.Diff([]int64{10, 11, 12}, s.marked); diff != "" {
		t.Fatalf("marked offsets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"roads", "ar5"}, fc.layers); diff != "" {
		t.Fatalf("invalidated layers (-want +got):\n%s", diff)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Partition: 0, Offset: 5, Value: eventBytes("roads")}
	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}

	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected error on first attempt")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message must not be marked; marked=%v", s.marked)
	}

	ch = make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestProcessOne_ClearsRedisLayer(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := t.Context()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	layered := cache.NewLayered(slog.New(slog.DiscardHandler), rc, 8, time.Second)
	layered.Put(ctx, "roads", "https://wms.example.org/wms?REQUEST=GetFeatureInfo", cache.Entry{ContentType: "text/plain", Body: []byte("x")}, time.Minute)
	layered.Put(ctx, "ar5", "https://wms.example.org/wms?REQUEST=GetFeatureInfo", cache.Entry{ContentType: "text/plain", Body: []byte("y")}, time.Minute)

	c := newConsumerForTest(layered)
	if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: eventBytes("roads")}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := layered.Get(ctx, "roads", "https://wms.example.org/wms?REQUEST=GetFeatureInfo"); ok {
		t.Fatal("roads entry survived invalidation")
	}
	if _, ok := layered.Get(ctx, "ar5", "https://wms.example.org/wms?REQUEST=GetFeatureInfo"); !ok {
		t.Fatal("ar5 entry must survive")
	}
}

func TestStart_RequiresBrokers(t *testing.T) {
	c := New(NewConfig(" , ", "t", "g"), nil, &fakeCache{})
	if err := c.Start(t.Context()); err == nil {
		t.Fatal("expected error without brokers")
	}
	if err := New(NewConfig("x", "t", "g"), nil, nil).Start(t.Context()); err == nil {
		t.Fatal("expected error without cache")
	}
}
