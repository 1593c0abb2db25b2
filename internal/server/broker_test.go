package server

import (
	"bufio"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/model"
	"github.com/enmapper/snowflow/internal/run"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(testLogger())
	defer b.Close()

	sub1 := b.Subscribe("m1")
	sub2 := b.Subscribe("m1")
	other := b.Subscribe("m2")

	b.Publish("m1", model.LogEntry{Seq: 1, Kind: model.LogInfo, Message: "hello"})

	for i, ch := range []chan []byte{sub1, sub2} {
		select {
		case msg := <-ch:
			text := string(msg)
			assert.True(t, strings.HasPrefix(text, "event: log\n"), "subscriber %d: %q", i, text)
			assert.Contains(t, text, `"message":"hello"`)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}

	select {
	case msg := <-other:
		t.Fatalf("wrong-migration subscriber received %q", msg)
	default:
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(testLogger())
	defer b.Close()

	ch := b.Subscribe("m1")
	b.Unsubscribe("m1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last unsubscribe is a no-op.
	b.Publish("m1", model.LogEntry{Seq: 1, Message: "nobody home"})
}

func TestBrokerDropsWhenSubscriberStalls(t *testing.T) {
	b := NewBroker(testLogger())
	defer b.Close()

	ch := b.Subscribe("m1")
	// Never read: fill the buffer past capacity. Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("m1", model.LogEntry{Seq: uint64(i + 1), Message: "spam"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
	assert.Equal(t, cap(ch), len(ch), "buffer should be full, the rest dropped")
}

func TestBrokerCloseThenUnsubscribe(t *testing.T) {
	b := NewBroker(testLogger())
	ch := b.Subscribe("m1")
	b.Close()

	// The handler's deferred Unsubscribe must not double-close.
	b.Unsubscribe("m1", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestEventsEndpointStreamsLogs(t *testing.T) {
	logger := testLogger()
	broker := NewBroker(logger)

	// Gate the executor so the stream can attach before the run finishes.
	release := make(chan struct{})
	collab := testCollaborators()
	inner := collab.Executor
	collab.Executor = agent.ExecutorFunc(func(ctx context.Context, req agent.TaskRequest) (model.TableResult, error) {
		<-release
		return inner.ExecuteTask(ctx, req)
	})
	reg := run.NewRegistry(collab, run.Options{
		OutputDir: t.TempDir(),
		OnLog:     broker.Publish,
	}, logger)
	t.Cleanup(func() {
		reg.Close()
		broker.Close()
	})

	srv := New(Config{Registry: reg, Logger: logger, Broker: broker, Version: "test"})
	h := srv.Handler()
	id := startMigration(t, h)

	// httptest.ResponseRecorder is not a streaming client; exercise the
	// handler through a real server instead.
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/migration/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	close(release)

	// Log entries appended after the subscription arrive as SSE events.
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: log\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "), "got %q", line)
	assert.Contains(t, line, `"seq"`)

	waitComplete(t, reg, id)
}

func TestEventsEndpointUnknownMigration(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/migration/deadbeef/events", nil))
	assert.Equal(t, 404, rec.Code)
}
