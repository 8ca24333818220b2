package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type ctxKey int

const investigationKey ctxKey = 0

// WithInvestigation returns a context carrying the investigation id.
// Everything spawned under the returned context logs with that id
// attached, without the id being threaded through call signatures.
func WithInvestigation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, investigationKey, id)
}

// InvestigationID extracts the investigation id from ctx, if any.
func InvestigationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(investigationKey).(string)
	return id, ok && id != ""
}

// contextHandler decorates a slog.Handler: records emitted under an
// investigation context gain an investigation_id field and are teed,
// synchronously, to that investigation's log file when one is open.
type contextHandler struct {
	inner slog.Handler
}

func newContextHandler(inner slog.Handler) *contextHandler {
	return &contextHandler{inner: inner}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if id, ok := InvestigationID(ctx); ok {
		record = record.Clone()
		record.AddAttrs(slog.String("investigation_id", id))
		router.write(id, record)
	}
	return h.inner.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}

// router holds the open per-investigation log files. It is the only
// process-global mutable state in this package.
var router = &sinkRouter{sinks: make(map[string]*InvestigationLog)}

type sinkRouter struct {
	mu    sync.RWMutex
	sinks map[string]*InvestigationLog
}

func (r *sinkRouter) register(id string, sink *InvestigationLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = sink
}

func (r *sinkRouter) unregister(id string) *InvestigationLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink := r.sinks[id]
	delete(r.sinks, id)
	return sink
}

func (r *sinkRouter) write(id string, record slog.Record) {
	r.mu.RLock()
	sink := r.sinks[id]
	r.mu.RUnlock()
	if sink == nil {
		return
	}
	line := fmt.Sprintf("%s [%s] %s %s",
		record.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		record.Level, id, record.Message)
	record.Attrs(func(a slog.Attr) bool {
		if a.Key != "investigation_id" {
			line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		}
		return true
	})
	sink.WriteLine(line)
}

// RegisterInvestigationLog attaches a per-investigation log file so that
// subsequent records under that investigation context are teed into it.
func RegisterInvestigationLog(id string, sink *InvestigationLog) {
	router.register(id, sink)
}

// CloseInvestigationLog detaches and closes the per-investigation log
// file. Safe to call on every exit path, including repeated calls.
func CloseInvestigationLog(id string) error {
	sink := router.unregister(id)
	if sink == nil {
		return nil
	}
	return sink.Close()
}
