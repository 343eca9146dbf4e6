package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Event is one decoded server-sent event.
type Event struct {
	Seq  int64           `json:"seq"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Terminal reports whether no event follows this one.
func (e Event) Terminal() bool { return e.Kind == "final" || e.Kind == "error" }

// Stream yields the assessment's events with seq greater than since until the
// terminal event, the connection ends, or ctx is done. A failure is yielded
// once as the error and ends the sequence.
func (c *Client) Stream(ctx context.Context, id string, since int64) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		path := fmt.Sprintf("/v1/assessments/%s/stream?since=%d", url.PathEscape(id), since)
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			yield(Event{}, err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := c.stream.Do(req)
		if err != nil {
			yield(Event{}, fmt.Errorf("stream %s: %w", id, err))
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if err := checkStatus(resp); err != nil {
			yield(Event{}, err)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var (
			ev      Event
			hasData bool
		)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				if !hasData {
					continue
				}
				if !yield(ev, nil) || ev.Terminal() {
					return
				}
				ev, hasData = Event{}, false
				continue
			}
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "id":
				seq, perr := strconv.ParseInt(value, 10, 64)
				if perr != nil {
					yield(Event{}, fmt.Errorf("stream %s: bad id %q", id, value))
					return
				}
				ev.Seq = seq
			case "event":
				ev.Kind = value
			case "data":
				ev.Data = append(ev.Data, value...)
				hasData = true
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			yield(Event{}, fmt.Errorf("stream %s: %w", id, err))
		}
	}
}
