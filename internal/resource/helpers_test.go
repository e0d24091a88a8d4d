package resource

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
)

// test helpers

// fakeMetrics records pipeline metrics calls.
type fakeMetrics struct {
	mu          sync.Mutex
	loads       map[string]int // scheme/outcome
	bytes       int
	inflight    int
	sniffed     map[string]int
	overrides   int
	disconnects int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{loads: map[string]int{}, sniffed: map[string]int{}}
}

func (m *fakeMetrics) IncLoad(scheme, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[scheme+"/"+outcome]++
}
func (m *fakeMetrics) ObserveLoadDuration(string, float64) {}
func (m *fakeMetrics) AddBytes(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}
func (m *fakeMetrics) IncInflight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight++
}
func (m *fakeMetrics) DecInflight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
}
func (m *fakeMetrics) IncSniffResult(ct string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sniffed[ct]++
}
func (m *fakeMetrics) IncSniffOverride() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides++
}
func (m *fakeMetrics) IncConsumerDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
}

func (m *fakeMetrics) load(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[key]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// staticLoader replies with fixed metadata and chunks from its own goroutine.
type staticLoader struct {
	contentType string
	headers     map[string]string
	chunks      []string
	err         error

	mu   sync.Mutex
	seen []LoadData
}

func (l *staticLoader) Load(ctx context.Context, data LoadData, s *Sniffer) {
	l.mu.Lock()
	l.seen = append(l.seen, data)
	l.mu.Unlock()

	go func() {
		md := DefaultMetadata(data.URL)
		md.SetContentType(l.contentType)
		if len(l.headers) > 0 {
			md.Headers = make(map[string][]string)
			for k, v := range l.headers {
				md.Headers.Set(k, v)
			}
		}
		ch, err := StartSendingOpt(s, data.Next, md)
		if err != nil {
			return
		}
		for _, c := range l.chunks {
			ch <- Payload([]byte(c))
		}
		ch <- Done(l.err)
	}()
}

func (l *staticLoader) lastSeen(t *testing.T) LoadData {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seen) == 0 {
		t.Fatal("loader was never called")
	}
	return l.seen[len(l.seen)-1]
}

func newTestTask(t *testing.T, loaders Loaders, opts ...func(*TaskOptions)) *Task {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o := TaskOptions{Logger: log.Nop(), Loaders: loaders}
	for _, fn := range opts {
		fn(&o)
	}
	return NewTask(ctx, o)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func recvResponse(t *testing.T, ch <-chan LoadResponse) LoadResponse {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for LoadResponse")
		return LoadResponse{}
	}
}

// collect reads a body channel to Done, failing the test on a timeout.
func collect(t *testing.T, ch <-chan Progress) ([]Progress, error) {
	t.Helper()
	var msgs []Progress
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				t.Fatal("progress channel closed before Done")
			}
			msgs = append(msgs, p)
			if p.Done {
				return msgs, p.Err
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for Done")
		}
	}
}
