// Package dispatcher formats items and fans announcements out to subscribers.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/metrics"
	"github.com/JakeFAU/release-watcher/internal/release"
)

// Recipients lists the chats that receive announcements.
type Recipients interface {
	ChatIDs() []string
}

// Delivery summarizes one fan-out.
type Delivery struct {
	Sent    int
	Failed  int
	Skipped bool
}

// Dispatcher delivers rendered items to every subscriber independently.
type Dispatcher struct {
	formatter  *Formatter
	sink       release.Sink
	recipients Recipients
	logger     *zap.Logger
}

// New creates a Dispatcher.
func New(formatter *Formatter, sink release.Sink, recipients Recipients, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		formatter:  formatter,
		sink:       sink,
		recipients: recipients,
		logger:     logger,
	}
}

// Notify renders item as a single short announcement and sends it to every
// subscriber. Items that render empty are skipped.
func (d *Dispatcher) Notify(ctx context.Context, item release.Item) (Delivery, error) {
	if !item.Announceable() {
		return Delivery{Skipped: true}, nil
	}
	text := d.formatter.Render(item, release.DetailLess, true)
	if text == "" {
		d.logger.Debug("announcement suppressed", zap.String("url", item.URL))
		return Delivery{Skipped: true}, nil
	}
	return d.Broadcast(ctx, text)
}

// Broadcast sends text to every subscriber. A failure for one chat is logged
// and counted; the remaining chats are still served.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) (Delivery, error) {
	var (
		mu  sync.Mutex
		out Delivery
		wg  sync.WaitGroup
	)
	for _, chatID := range d.recipients.ChatIDs() {
		wg.Add(1)
		go func(chatID string) {
			defer wg.Done()
			err := d.sink.Send(ctx, chatID, text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed++
				metrics.ObserveNotification("failed")
				d.logger.Info("cannot deliver to chat", zap.String("chat_id", chatID), zap.Error(err))
				return
			}
			out.Sent++
			metrics.ObserveNotification("sent")
		}(chatID)
	}
	wg.Wait()
	return out, ctx.Err()
}
