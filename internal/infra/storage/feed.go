package storage

import (
	"log/slog"
	"sync"

	"realty_go/internal/domain"
)

// changeFeed fans committed rows out to registered handlers.
type changeFeed struct {
	mu       sync.RWMutex
	handlers map[string][]domain.InsertHandler
}

func newChangeFeed() *changeFeed {
	return &changeFeed{handlers: make(map[string][]domain.InsertHandler)}
}

// OnInsert registers a handler for rows committed to table.
func (f *changeFeed) OnInsert(table string, handler domain.InsertHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[table] = append(f.handlers[table], handler)
}

func (f *changeFeed) publish(ev domain.InsertEvent) {
	f.mu.RLock()
	handlers := append([]domain.InsertHandler(nil), f.handlers[ev.Table]...)
	f.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Change feed handler panic recovered",
						slog.String("table", ev.Table), slog.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}
