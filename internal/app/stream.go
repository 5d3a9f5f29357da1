package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"nostr-desk/internal/types"
)

// maxIntentLine bounds one intent line.
const maxIntentLine = 256 * 1024

// JSONSink writes each notification as one JSON line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink returns a sink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Notify(n types.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(n); err != nil {
		slog.Error("failed to write notification", "type", n.Type, "error", err)
	}
}

// Serve reads intents from r, one JSON object per line, until r is
// exhausted or ctx is cancelled. Undecodable lines are reported to the sink
// and skipped; a failing intent does not stop the stream.
func (b *Backend) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxIntentLine)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		intent, err := DecodeIntent(line)
		if err != nil {
			b.log.Warn("bad intent line", "error", err)
			b.sink.Notify(types.ErrorNotification(err.Error()))
			continue
		}
		// Errors were already reported by HandleIntent.
		_ = b.HandleIntent(ctx, intent)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
