// Package changefeed delivers row-level change notifications from the store
// to live subscribers. A subscription is keyed by table and a filter
// predicate. Delivery is at-least-once per backend guarantees, and lost
// events are surfaced through status callbacks.
package changefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Watched tables.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
	TableParticipants  = "conversation_participants"
	TableFriendships   = "friendships"
)

// ErrFeedClosed is returned once a feed has been shut down.
var ErrFeedClosed = errors.New("changefeed: feed closed")

// Event is a single row change.
type Event struct {
	Type  EventType       `json:"type"`
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

// Decode unmarshals the row into dst.
func (e Event) Decode(dst any) error {
	if len(e.Row) == 0 {
		return fmt.Errorf("changefeed: empty row for %s %s", e.Type, e.Table)
	}
	return json.Unmarshal(e.Row, dst)
}

// Field returns a column value from the row rendered as a string.
func (e Event) Field(column string) (string, bool) {
	fields, err := decodeFields(e.Row)
	if err != nil {
		return "", false
	}
	v, ok := fields[column]
	if !ok || v == nil {
		return "", false
	}
	return renderValue(v), true
}

// UintField returns a numeric column value.
func (e Event) UintField(column string) (uint, bool) {
	raw, ok := e.Field(column)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

// Status reports the health of a subscription.
type Status string

const (
	// StatusSubscribed is reported once the subscription is live.
	StatusSubscribed Status = "subscribed"
	// StatusLagged means events were dropped and the consumer should re-fetch.
	StatusLagged Status = "lagged"
	// StatusChannelError means the transport failed and no further events will arrive.
	StatusChannelError Status = "channel_error"
	// StatusClosed means the feed shut the subscription down.
	StatusClosed Status = "closed"
)

// EventHandler receives matching events.
type EventHandler func(Event)

// StatusHandler receives subscription status transitions.
type StatusHandler func(Status, error)

// Subscription is a live handle. Close is idempotent.
type Subscription interface {
	ID() string
	Close() error
}

// Subscriber opens filtered subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, table string, filter Filter, onEvent EventHandler, onStatus StatusHandler) (Subscription, error)
}

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Feed is a complete change feed backend.
type Feed interface {
	Subscriber
	Publisher
	Close() error
}

// Operator is a filter comparison.
type Operator string

const (
	OpEq Operator = "eq"
	OpIn Operator = "in"
)

// Filter restricts a subscription to rows whose column matches one of Values.
// A zero Filter matches every row.
type Filter struct {
	Column string
	Op     Operator
	Values []string
}

// Eq builds a single-value equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Values: []string{fmt.Sprint(value)}}
}

// In builds a set-membership filter.
func In(column string, values ...any) Filter {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return Filter{Column: column, Op: OpIn, Values: out}
}

// ConversationFilter filters messages to the given conversations, using
// equality for exactly one ID and set membership otherwise.
func ConversationFilter(ids []uint) Filter {
	if len(ids) == 1 {
		return Eq("conversation_id", ids[0])
	}
	values := make([]any, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}
	return In("conversation_id", values...)
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Column == ""
}

// String renders the filter in column=op.value form.
func (f Filter) String() string {
	if f.IsZero() {
		return "*"
	}
	if f.Op == OpEq && len(f.Values) == 1 {
		return fmt.Sprintf("%s=eq.%s", f.Column, f.Values[0])
	}
	return fmt.Sprintf("%s=in.(%s)", f.Column, strings.Join(f.Values, ","))
}

// Matches evaluates the filter against a JSON row.
func (f Filter) Matches(row json.RawMessage) bool {
	if f.IsZero() {
		return true
	}
	fields, err := decodeFields(row)
	if err != nil {
		return false
	}
	v, ok := fields[f.Column]
	if !ok || v == nil {
		return false
	}
	got := renderValue(v)
	for _, want := range f.Values {
		if got == want {
			return true
		}
	}
	return false
}

func decodeFields(row json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(row))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func renderValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// safeCall invokes fn and converts a panic into an error.
func safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("changefeed: handler panic: %v", r)
		}
	}()
	fn()
	return nil
}
