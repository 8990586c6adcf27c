package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/clusterd/internal/engine"
	"github.com/thebtf/clusterd/pkg/models"
)

var runAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func autoclusterEvent() engine.Event {
	return engine.Event{
		Type: engine.EventAutocluster,
		Data: models.AutoclusterResult{ClustersCreated: 2, ClustersMerged: 1, SessionsProcessed: 40, SessionsClustered: 9},
		At:   runAt,
	}
}

func dedupEvent() engine.Event {
	return engine.Event{
		Type: engine.EventDedup,
		Data: models.DedupResult{Merged: 1, Deleted: 1, Remaining: 4},
		At:   runAt,
	}
}

const (
	autoclusterFrame = "event: autocluster\ndata: {\"data\":{\"clustersCreated\":2,\"clustersMerged\":1,\"sessionsProcessed\":40,\"sessionsClustered\":9},\"type\":\"autocluster\",\"at\":\"2026-03-01T12:00:00Z\"}\n\n"
	dedupFrame       = "event: dedup\ndata: {\"data\":{\"merged\":1,\"deleted\":1,\"remaining\":4},\"type\":\"dedup\",\"at\":\"2026-03-01T12:00:00Z\"}\n\n"
)

// BroadcasterSuite covers delivery of engine run events to subscribers.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

// recordingWriter implements http.ResponseWriter and http.Flusher.
type recordingWriter struct {
	header   http.Header
	body     []byte
	failWith error
	mu       sync.Mutex
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{header: make(http.Header)}
}

func (m *recordingWriter) Header() http.Header { return m.header }

func (m *recordingWriter) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	m.body = append(m.body, b...)
	return len(b), nil
}

func (m *recordingWriter) WriteHeader(int) {}

func (m *recordingWriter) Flush() {}

func (m *recordingWriter) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// noFlushWriter lacks http.Flusher.
type noFlushWriter struct{ http.ResponseWriter }

func (s *BroadcasterSuite) subscribe() *recordingWriter {
	w := newRecordingWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)
	return w
}

func (s *BroadcasterSuite) TestAddAndRemoveClient() {
	client, err := s.broadcaster.AddClient(newRecordingWriter())
	s.Require().NoError(err)
	s.Equal("sub-1", client.ID)
	s.Equal(1, s.broadcaster.ClientCount())

	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())
	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}
	s.NotPanics(func() { s.broadcaster.RemoveClient(client) })

	s.broadcaster.Broadcast(autoclusterEvent())
}

func (s *BroadcasterSuite) TestAddClientRequiresFlusher() {
	_, err := s.broadcaster.AddClient(noFlushWriter{httptest.NewRecorder()})
	s.Error(err)
	s.Equal(0, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestAutoclusterEvent() {
	w := s.subscribe()

	s.broadcaster.Broadcast(autoclusterEvent())

	s.Equal(autoclusterFrame, w.String())
}

func (s *BroadcasterSuite) TestRunEventsArriveInOrder() {
	w := s.subscribe()

	s.broadcaster.Broadcast(autoclusterEvent())
	s.broadcaster.Broadcast(dedupEvent())

	s.Equal(autoclusterFrame+dedupFrame, w.String())
}

func (s *BroadcasterSuite) TestDedupReachesEverySubscriber() {
	writers := []*recordingWriter{s.subscribe(), s.subscribe(), s.subscribe()}

	s.broadcaster.Broadcast(dedupEvent())

	for i, w := range writers {
		s.Equal(dedupFrame, w.String(), "subscriber %d", i)
	}
}

func (s *BroadcasterSuite) TestNoSubscribers() {
	s.NotPanics(func() { s.broadcaster.Broadcast(dedupEvent()) })
}

func (s *BroadcasterSuite) TestDeadSubscriberDropped() {
	good := s.subscribe()
	bad := newRecordingWriter()
	bad.failWith = errors.New("broken pipe")
	badClient, err := s.broadcaster.AddClient(bad)
	s.Require().NoError(err)

	s.broadcaster.Broadcast(autoclusterEvent())

	s.Equal(1, s.broadcaster.ClientCount())
	s.Equal(autoclusterFrame, good.String())
	select {
	case <-badClient.Done:
	default:
		s.Fail("dead subscriber should be closed")
	}

	s.broadcaster.Broadcast(dedupEvent())
	s.Equal(autoclusterFrame+dedupFrame, good.String())
}

func TestFrame(t *testing.T) {
	tests := []struct {
		name string
		data interface{}
		want string
	}{
		{name: "autocluster", data: autoclusterEvent(), want: autoclusterFrame},
		{name: "dedup", data: dedupEvent(), want: dedupFrame},
		{name: "untyped event", data: engine.Event{At: runAt}, want: "data: {\"data\":null,\"type\":\"\",\"at\":\"2026-03-01T12:00:00Z\"}\n\n"},
		{name: "plain payload", data: map[string]string{"clientId": "sub-1"}, want: "data: {\"clientId\":\"sub-1\"}\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Frame(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrameUnmarshalable(t *testing.T) {
	_, err := Frame(engine.Event{Type: engine.EventDedup, Data: make(chan int)})
	assert.Error(t, err)
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.HandleSSE(rec, req)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSSE did not return after cancellation")
	}

	assert.Equal(t, 0, b.ClientCount())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: connected\ndata: {\"clientId\":\"sub-1\"}")
}

func TestConcurrentRunEvents(t *testing.T) {
	b := NewBroadcaster()
	writers := make([]*recordingWriter, 5)
	for i := range writers {
		writers[i] = newRecordingWriter()
		_, err := b.AddClient(writers[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				b.Broadcast(autoclusterEvent())
			} else {
				b.Broadcast(dedupEvent())
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, b.ClientCount())
	for _, w := range writers {
		body := w.String()
		assert.Equal(t, 25, strings.Count(body, "event: autocluster\n"))
		assert.Equal(t, 25, strings.Count(body, "event: dedup\n"))
		assert.Equal(t, 50, strings.Count(body, "\n\n"), "frames must not interleave")
	}
}
