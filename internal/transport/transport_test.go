package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func TestParseConsoleLine(t *testing.T) {
	tests := []struct {
		line     string
		expected Message
	}{
		{"!a1b2: !help", Message{Text: "!help", SenderID: "!a1b2"}},
		{"!a1b2: !post hello: world", Message{Text: "!post hello: world", SenderID: "!a1b2"}},
		{"!list", Message{Text: "!list", SenderID: ConsoleSender}},
		{"two words: not a sender\r\n", Message{Text: "two words: not a sender", SenderID: ConsoleSender}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseConsoleLine(tt.line), tt.line)
	}
}

func TestConsole_ListenAndSend(t *testing.T) {
	in := strings.NewReader("!a1: !help\n\n!b2: !list 3\n")
	var out bytes.Buffer
	c := NewConsole(in, &out)

	var got []Message
	err := c.Listen(context.Background(), func(ctx context.Context, m Message) {
		got = append(got, m)
		require.NoError(t, c.Send(ctx, "ok", m.SenderID))
	})
	require.NoError(t, err)

	assert.Equal(t, []Message{
		{Text: "!help", SenderID: "!a1"},
		{Text: "!list 3", SenderID: "!b2"},
	}, got)

	require.NoError(t, c.Send(context.Background(), "hello all", Broadcast))
	assert.Equal(t, "-> !a1: ok\n-> !b2: ok\n-> *: hello all\n", out.String())

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(context.Background(), "late", "!a1"), ErrClosed)
}

func TestConsole_SkipsOversizedLines(t *testing.T) {
	long := "!a: " + strings.Repeat("x", 70*1024)
	in := strings.NewReader(long + "\n!a: !help\n!b: no newline at end")
	c := NewConsole(in, io.Discard)

	var got []Message
	err := c.Listen(context.Background(), func(_ context.Context, m Message) {
		got = append(got, m)
	})
	require.NoError(t, err)

	assert.Equal(t, []Message{
		{Text: "!help", SenderID: "!a"},
		{Text: "no newline at end", SenderID: "!b"},
	}, got)
}

func TestRedis_ListenAndSend(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	tr := NewRedis(rdb, "mesh:inbound", "mesh:outbound")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Message
	done := make(chan error, 1)
	go func() {
		done <- tr.Listen(ctx, func(_ context.Context, m Message) {
			if m.Text == "panic" {
				panic("handler blew up")
			}
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool {
		return mr.PubSubNumSub("mesh:inbound")["mesh:inbound"] == 1
	}, testEventuallyTimeout, testPollInterval)

	mr.Publish("mesh:inbound", `not json`)
	mr.Publish("mesh:inbound", `{"text":"panic","sender_id":"!a1"}`)
	mr.Publish("mesh:inbound", `{"text":"!help","sender_id":"!a1","sender_name":"Alice"}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, testEventuallyTimeout, testPollInterval)
	mu.Lock()
	assert.Equal(t, Message{Text: "!help", SenderID: "!a1", SenderName: "Alice"}, got[0])
	mu.Unlock()

	// outbound
	out := rdb.Subscribe(context.Background(), "mesh:outbound")
	defer func() { _ = out.Close() }()
	_, err = out.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), "Post #1 created successfully!", "!a1"))
	msg, err := out.ReceiveMessage(context.Background())
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, "Post #1 created successfully!", payload["text"])
	assert.Equal(t, "!a1", payload["destination"])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRedis_NilClient(t *testing.T) {
	tr := NewRedis(nil, "in", "out")
	assert.ErrorIs(t, tr.Send(context.Background(), "x", ""), ErrClosed)
	assert.ErrorIs(t, tr.Listen(context.Background(), func(context.Context, Message) {}), ErrClosed)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	rec := NewRecorder()
	rec.Fail["!down"] = errors.New("radio unreachable")

	b := NewBreaker("test-mesh", rec, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute})

	require.NoError(t, b.Send(context.Background(), "hello", "!up"))
	assert.Error(t, b.Send(context.Background(), "hello", "!down"))
	assert.Error(t, b.Send(context.Background(), "hello", "!down"))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// open circuit rejects without reaching the sender
	err := b.Send(context.Background(), "hello", "!up")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, rec.To("!up"), 1)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	require.NoError(t, rec.Send(context.Background(), "a", "!x"))
	require.NoError(t, rec.Send(context.Background(), "b", Broadcast))
	require.NoError(t, rec.Send(context.Background(), "c", "!x"))

	assert.Equal(t, []string{"a", "c"}, rec.To("!x"))
	assert.Equal(t, []Sent{{"a", "!x"}, {"b", ""}, {"c", "!x"}}, rec.Messages())

	rec.Reset()
	assert.Empty(t, rec.Messages())
}
