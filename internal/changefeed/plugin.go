package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"sync"

	"roadcrew/internal/middleware"

	"gorm.io/gorm"
)

// Plugin is a gorm plugin that publishes a change event for every row
// created, updated or deleted in a watched table.
//
// Writes inside a transaction must run under a context from Defer so events
// are only published after commit; otherwise a subscriber could re-fetch
// before the row is visible.
type Plugin struct {
	publisher Publisher
	tables    map[string]bool
	logger    *slog.Logger
}

// NewPlugin watches the given tables, or every change-feed table when none are given.
func NewPlugin(publisher Publisher, tables ...string) *Plugin {
	if len(tables) == 0 {
		tables = []string{TableMessages, TableConversations, TableParticipants, TableFriendships}
	}
	watched := make(map[string]bool, len(tables))
	for _, t := range tables {
		watched[t] = true
	}
	return &Plugin{publisher: publisher, tables: watched, logger: middleware.Logger}
}

// Name implements gorm.Plugin.
func (p *Plugin) Name() string {
	return "roadcrew:changefeed"
}

// Initialize implements gorm.Plugin.
func (p *Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().After("gorm:create").Register("changefeed:after_create", p.emit(EventInsert)); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("changefeed:after_update", p.emit(EventUpdate)); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").Register("changefeed:after_delete", p.emit(EventDelete))
}

func (p *Plugin) emit(t EventType) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil || tx.RowsAffected == 0 || tx.Statement == nil {
			return
		}
		table := tx.Statement.Table
		if !p.tables[table] {
			return
		}

		ctx := tx.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		for _, row := range rowsOf(tx.Statement.ReflectValue) {
			raw, err := json.Marshal(row)
			if err != nil {
				p.logger.WarnContext(ctx, "changefeed: cannot encode row",
					slog.String("table", table),
					slog.String("error", err.Error()),
				)
				continue
			}
			ev := Event{Type: t, Table: table, Row: raw}
			if b := batchFrom(ctx); b != nil {
				b.add(p.publisher, ev)
				continue
			}
			if err := p.publisher.Publish(ctx, ev); err != nil {
				p.logger.WarnContext(ctx, "changefeed: publish failed",
					slog.String("table", table),
					slog.String("type", string(t)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func rowsOf(v reflect.Value) []any {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		rows := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			rows = append(rows, rowsOf(v.Index(i))...)
		}
		return rows
	case reflect.Struct:
		if v.CanInterface() {
			return []any{v.Interface()}
		}
	}
	return nil
}

type batchKey struct{}

type pendingEvent struct {
	publisher Publisher
	event     Event
}

// Batch holds events captured during a transaction until Flush or Discard.
type Batch struct {
	mu     sync.Mutex
	events []pendingEvent
	done   bool
}

// Defer returns a context under which plugin events are captured into the
// returned Batch instead of being published immediately.
func Defer(ctx context.Context) (context.Context, *Batch) {
	b := &Batch{}
	return context.WithValue(ctx, batchKey{}, b), b
}

func batchFrom(ctx context.Context) *Batch {
	b, _ := ctx.Value(batchKey{}).(*Batch)
	return b
}

func (b *Batch) add(p Publisher, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.events = append(b.events, pendingEvent{publisher: p, event: ev})
}

// Len returns the number of captured events.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush publishes captured events in capture order and empties the batch.
func (b *Batch) Flush(ctx context.Context) error {
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.done = true
	b.mu.Unlock()

	// The deferring context must not leak into the publish path.
	ctx = context.WithValue(ctx, batchKey{}, (*Batch)(nil))

	var errs []error
	for _, pe := range events {
		if err := pe.publisher.Publish(ctx, pe.event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops captured events, used when the transaction rolled back.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
	b.done = true
}
