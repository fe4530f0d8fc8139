// Package chat paces outbound chat messages so the bot stays inside the
// platform's per-account send budget.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamhub/backend/telemetry"
)

// Sender delivers one chat message. Satisfied by *twitchapi.Client.
type Sender interface {
	SendChatMessage(ctx context.Context, broadcasterID, senderID, text, replyParentID string) error
}

// Message is one queued outbound chat line.
type Message struct {
	Text          string
	ReplyParentID string
}

// Dispatcher is a FIFO outbound queue drained at a fixed rate, one message
// per tick. The ticker only runs while the queue is non-empty, so an idle
// bot costs nothing. A failed send is logged and dropped; retrying stale
// chat lines into a moving conversation is worse than losing them.
type Dispatcher struct {
	Sender            Sender
	BroadcasterUserID string
	BotUserID         string
	// MessagesPerSecond caps the drain rate. Defaults to 20.
	MessagesPerSecond int

	mu      sync.Mutex
	queue   []Message
	ticking bool
	closed  bool

	// wg tracks the drain goroutine for Shutdown.
	wg sync.WaitGroup
}

// Enqueue appends a message and starts the drain ticker if it is idle.
func (d *Dispatcher) Enqueue(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Debug("chat dispatcher closed, dropping message")
		telemetry.CountMessageDropped()
		return
	}
	d.queue = append(d.queue, msg)
	telemetry.SetOutboundQueueDepth(len(d.queue))
	if !d.ticking {
		d.ticking = true
		d.wg.Add(1)
		go d.drain()
	}
}

// Say is shorthand for enqueuing a plain message.
func (d *Dispatcher) Say(text string) {
	d.Enqueue(Message{Text: text})
}

// Reply enqueues a threaded reply to the given message.
func (d *Dispatcher) Reply(parentMessageID, text string) {
	d.Enqueue(Message{Text: text, ReplyParentID: parentMessageID})
}

// QueueDepth reports how many messages are waiting.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Shutdown stops accepting messages and waits for the queue to drain.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) interval() time.Duration {
	mps := d.MessagesPerSecond
	if mps <= 0 {
		mps = 20
	}
	return time.Second / time.Duration(mps)
}

// drain sends one message per tick until the queue empties, then exits. The
// first send waits a full interval too, which keeps bursts honest even when
// the queue repeatedly empties and refills.
func (d *Dispatcher) drain() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()
	for range ticker.C {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.ticking = false
			d.mu.Unlock()
			return
		}
		msg := d.queue[0]
		d.queue = d.queue[1:]
		telemetry.SetOutboundQueueDepth(len(d.queue))
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.Sender.SendChatMessage(ctx, d.BroadcasterUserID, d.BotUserID, msg.Text, msg.ReplyParentID)
		cancel()
		if err != nil {
			slog.Warn("chat send failed, dropping message", "error", err)
			telemetry.CountMessageDropped()
			continue
		}
		telemetry.CountMessageSent()
	}
}
