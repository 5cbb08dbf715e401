package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/config"
	"github.com/agentsight/call-copilot/internal/stt"
)

type collectingSink struct {
	mu       sync.Mutex
	partials []Segment
	finals   []Segment
}

func (s *collectingSink) OnPartial(seg Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, seg)
}

func (s *collectingSink) OnFinal(seg Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, seg)
}

func (s *collectingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.partials), len(s.finals)
}

func testConfig() *config.Config {
	return &config.Config{AudioQueueSize: 10, RequestTimeout: 5}
}

func mockFactory(script []string, audioPerFinal int) stt.Factory {
	return func(callID string, sampleRateHz int) (stt.Client, error) {
		return stt.NewMockClientWithScript(script, audioPerFinal), nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManagerCreateAndFeed(t *testing.T) {
	m := NewManager(testConfig(), mockFactory([]string{"block my credit card"}, 100), zerolog.Nop())
	sink := &collectingSink{}

	p, err := m.Create("s1", "call-1", 8000, false, sink)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 pipeline, got %d", m.Len())
	}

	p.Feed(make([]byte, 100))

	waitFor(t, time.Second, func() bool {
		partials, finals := sink.counts()
		return partials == 1 && finals == 1
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.finals[0].Text != "block my credit card" || !sink.finals[0].IsFinal {
		t.Errorf("unexpected final segment: %+v", sink.finals[0])
	}
}

func TestManagerDuplicateCreateIsNoOp(t *testing.T) {
	m := NewManager(testConfig(), mockFactory(nil, 100), zerolog.Nop())

	first, err := m.Create("s1", "call-1", 8000, false, &collectingSink{})
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	second, err := m.Create("s1", "call-2", 8000, false, &collectingSink{})
	if err != nil {
		t.Fatalf("duplicate Create returned error: %v", err)
	}
	if second != first {
		t.Error("expected duplicate Create to return the existing pipeline")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 pipeline after duplicate Create, got %d", m.Len())
	}
	m.Shutdown(context.Background())
}

func TestManagerStopFlushesPendingFinal(t *testing.T) {
	m := NewManager(testConfig(), mockFactory([]string{"trailing words"}, 1000), zerolog.Nop())
	sink := &collectingSink{}

	p, err := m.Create("s1", "call-1", 8000, false, sink)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Below the mock threshold, so the final only appears on Stop's flush
	p.Feed(make([]byte, 500))
	time.Sleep(50 * time.Millisecond)

	m.Stop("s1")

	_, finals := sink.counts()
	if finals != 1 {
		t.Errorf("expected flushed final after Stop, got %d", finals)
	}
	if m.Len() != 0 {
		t.Errorf("expected no pipelines after Stop, got %d", m.Len())
	}
}

func TestManagerStopIdempotent(t *testing.T) {
	m := NewManager(testConfig(), mockFactory(nil, 100), zerolog.Nop())

	if _, err := m.Create("s1", "call-1", 8000, false, &collectingSink{}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Stop("s1")
	m.Stop("s1")
	m.Stop("never-existed")
}

func TestManagerShutdownStopsAll(t *testing.T) {
	m := NewManager(testConfig(), mockFactory(nil, 100), zerolog.Nop())

	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := m.Create(id, "call-"+id, 8000, false, &collectingSink{}); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	m.Shutdown(context.Background())
	if m.Len() != 0 {
		t.Errorf("expected no pipelines after Shutdown, got %d", m.Len())
	}
}

func TestManagerSharedHTTPClient(t *testing.T) {
	m := NewManager(testConfig(), mockFactory(nil, 100), zerolog.Nop())

	c1 := m.HTTPClient()
	c2 := m.HTTPClient()
	if c1 != c2 {
		t.Error("HTTPClient should return the same shared instance")
	}
	if c1.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", c1.Timeout)
	}
}

func TestFeedNeverBlocksWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.AudioQueueSize = 1

	// A client whose SendAudio blocks until released
	release := make(chan struct{})
	factory := func(callID string, sampleRateHz int) (stt.Client, error) {
		return &blockingClient{release: release, results: make(chan *stt.Result)}, nil
	}

	m := NewManager(cfg, factory, zerolog.Nop())
	p, err := m.Create("s1", "call-1", 8000, false, &collectingSink{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			p.Feed([]byte{0x00})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Feed blocked on a stalled STT client")
	}
	close(release)
}

type blockingClient struct {
	release chan struct{}
	results chan *stt.Result
	once    sync.Once
}

func (b *blockingClient) Start() error { return nil }
func (b *blockingClient) SendAudio(audioData []byte) error {
	<-b.release
	return nil
}
func (b *blockingClient) Results() <-chan *stt.Result { return b.results }
func (b *blockingClient) Stop() error                 { return nil }
func (b *blockingClient) Close() error {
	b.once.Do(func() { close(b.results) })
	return nil
}
