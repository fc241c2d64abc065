package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/AndreasThinks/nodeice-board/internal/observability"
)

// ConsoleSender is the sender ID used for console lines without a "sender:" prefix.
const ConsoleSender = "!console"

// MaxConsoleLine bounds one input line in bytes; longer lines are skipped.
const MaxConsoleLine = 64 * 1024

// Console reads "<sender>: <text>" lines from in and writes outbound
// messages to out. It is meant for local use without a radio.
type Console struct {
	in  io.Reader
	out io.Writer

	mu     sync.Mutex
	closed bool
}

// NewConsole creates a console transport.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// ParseConsoleLine splits a console line into a message. "!a1b2: !help" is
// sent by !a1b2; a line without a sender prefix is sent by ConsoleSender.
func ParseConsoleLine(line string) Message {
	line = strings.TrimRight(line, "\r\n")
	if sender, text, ok := strings.Cut(line, ": "); ok && sender != "" && !strings.ContainsAny(sender, " \t") {
		return Message{Text: text, SenderID: sender}
	}
	return Message{Text: line, SenderID: ConsoleSender}
}

// Send writes "-> <destination>: <text>", with "*" for broadcasts.
func (c *Console) Send(_ context.Context, text, destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if destination == Broadcast {
		destination = "*"
	}
	_, err := fmt.Fprintf(c.out, "-> %s: %s\n", destination, text)
	return err
}

// Listen reads lines until EOF or ctx is done.
func (c *Console) Listen(ctx context.Context, h Handler) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		readErr <- readLines(ctx, c.in, lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			h(ctx, ParseConsoleLine(line))
		}
	}
}

// readLines sends each line of r to out. Lines over MaxConsoleLine are
// discarded up to their newline. EOF is not an error.
func readLines(ctx context.Context, r io.Reader, out chan<- string) error {
	br := bufio.NewReaderSize(r, MaxConsoleLine)
	for {
		chunk, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			dropped := len(chunk)
			for errors.Is(err, bufio.ErrBufferFull) {
				chunk, err = br.ReadSlice('\n')
				dropped += len(chunk)
			}
			observability.InboundDropped.WithLabelValues("too_long").Inc()
			observability.Logger.WarnContext(ctx, "Dropping oversized console line",
				slog.Int("bytes", dropped),
				slog.Int("max", MaxConsoleLine),
			)
		} else if len(chunk) > 0 {
			select {
			case out <- string(chunk):
			case <-ctx.Done():
				return nil
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}

// Close stops further sends.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
