package zulip

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeSender struct {
	mu      sync.Mutex
	direct  []string // content of SendDirect calls
	stream  []string
	typing  []string // "start"/"stop"
	failSeq []error  // per-call errors for sends, consumed in order
	nextID  int64
}

func (f *fakeSender) nextErr() error {
	if len(f.failSeq) == 0 {
		return nil
	}
	err := f.failSeq[0]
	f.failSeq = f.failSeq[1:]
	return err
}

func (f *fakeSender) SendDirect(ctx context.Context, userID int64, content string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return 0, err
	}
	f.direct = append(f.direct, content)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSender) SendStream(ctx context.Context, stream, topic, content string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return 0, err
	}
	f.stream = append(f.stream, stream+"/"+topic+": "+content)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSender) SetTyping(ctx context.Context, op string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, op)
	return nil
}

func TestDeliverDM(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 10000, false)

	if err := d.Deliver(context.Background(), "dm:42", "hello"); err != nil {
		t.Fatal(err)
	}
	if len(s.direct) != 1 || s.direct[0] != "hello" {
		t.Errorf("direct sends = %v", s.direct)
	}
}

func TestDeliverStreamTopic(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 10000, false)

	if err := d.Deliver(context.Background(), "stream:general:lunch plans", "on my way"); err != nil {
		t.Fatal(err)
	}
	if len(s.stream) != 1 || s.stream[0] != "general/lunch plans: on my way" {
		t.Errorf("stream sends = %v", s.stream)
	}
}

func TestDeliverChunksInOrderAndLossless(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 20, false)

	text := "first paragraph here\n\nsecond paragraph here\n\nthird paragraph here"
	if err := d.Deliver(context.Background(), "dm:42", text); err != nil {
		t.Fatal(err)
	}
	if len(s.direct) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(s.direct))
	}
	if got := strings.Join(s.direct, ""); got != text {
		t.Errorf("concatenated chunks = %q, want original text", got)
	}
}

func TestDeliverFailedChunkSkipped(t *testing.T) {
	s := &fakeSender{failSeq: []error{errors.New("boom")}}
	d := NewDispatcher("main", s, nil, 20, false)

	text := "first paragraph here\n\nsecond paragraph here"
	if err := d.Deliver(context.Background(), "dm:42", text); err != nil {
		t.Fatalf("partial delivery should not error: %v", err)
	}
	if len(s.direct) == 0 {
		t.Error("later chunks should still be delivered")
	}
	for _, c := range s.direct {
		if strings.Contains(c, "first") {
			t.Error("failed first chunk should not have been recorded")
		}
	}
}

func TestDeliverAllChunksFailed(t *testing.T) {
	s := &fakeSender{failSeq: []error{errors.New("boom")}}
	d := NewDispatcher("main", s, nil, 10000, false)

	if err := d.Deliver(context.Background(), "dm:42", "hello"); err == nil {
		t.Error("expected error when nothing was delivered")
	}
}

func TestDeliverMalformedAddress(t *testing.T) {
	d := NewDispatcher("main", &fakeSender{}, nil, 10000, false)
	if err := d.Deliver(context.Background(), "carrier-pigeon:42", "hi"); err == nil {
		t.Error("expected error for unknown address scheme")
	}
}

func TestDeliverEmptyTextNoop(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 10000, false)
	if err := d.Deliver(context.Background(), "dm:42", ""); err != nil {
		t.Fatal(err)
	}
	if len(s.direct) != 0 {
		t.Errorf("empty text should send nothing, got %v", s.direct)
	}
}

func TestDeliverConvertsTables(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 10000, true)

	text := "| a | b |\n| --- | --- |\n| 1 | 2 |"
	if err := d.Deliver(context.Background(), "dm:42", text); err != nil {
		t.Fatal(err)
	}
	if len(s.direct) != 1 {
		t.Fatalf("sends = %v", s.direct)
	}
	if strings.Contains(s.direct[0], "| --- |") {
		t.Errorf("separator row should be gone: %q", s.direct[0])
	}
}

func TestDestinationLocksRetiredWhenIdle(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 10000, false)

	if err := d.Deliver(context.Background(), "dm:42", "one"); err != nil {
		t.Fatal(err)
	}
	if err := d.Deliver(context.Background(), "stream:general:x", "two"); err != nil {
		t.Fatal(err)
	}

	d.mu.Lock()
	n := len(d.dests)
	d.mu.Unlock()
	if n != 0 {
		t.Errorf("idle destination locks retained: %d", n)
	}
}

func TestConcurrentDeliveriesDoNotInterleavePerDestination(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 20, false)

	text := "first paragraph here\n\nsecond paragraph here"
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Deliver(context.Background(), "dm:42", text); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// Each delivery's chunks must appear as one contiguous run.
	joined := strings.Join(s.direct, "")
	if joined != strings.Repeat(text, 4) {
		t.Errorf("chunks interleaved across deliveries: %q", joined)
	}

	d.mu.Lock()
	n := len(d.dests)
	d.mu.Unlock()
	if n != 0 {
		t.Errorf("idle destination locks retained: %d", n)
	}
}

func TestTypingDMOnly(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher("main", s, nil, 10000, false)

	d.Typing(context.Background(), "dm:42", "start")
	d.Typing(context.Background(), "stream:general:topic", "start")
	d.Typing(context.Background(), "dm:42", "stop")

	if len(s.typing) != 2 || s.typing[0] != "start" || s.typing[1] != "stop" {
		t.Errorf("typing calls = %v, want [start stop]", s.typing)
	}
}
