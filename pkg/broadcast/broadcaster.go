// Package broadcast diffs the live scene against what this client last sent
// and emits only the difference to its peers.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/ledger"
	"github.com/surrealdb/scenesync/pkg/logger"
	"github.com/surrealdb/scenesync/pkg/models"
	"github.com/surrealdb/scenesync/pkg/timer"
)

// Sender is the part of channel.Channel the broadcaster needs.
type Sender interface {
	Send(ctx context.Context, event channel.Event, payload any) error
}

type Broadcaster struct {
	senderID string
	sender   Sender
	ledger   *ledger.VersionLedger
	files    *ledger.FileTracker
	logger   logger.Logger
	throttle *timer.Throttler

	// SendTimeout bounds each throttled send.
	SendTimeout time.Duration

	// OnLocalChange runs whenever a diff pass found something to send,
	// whether or not the send succeeded.
	OnLocalChange func()

	// SendGuard wraps each diff pass. The session uses it to hold its
	// Broadcasting state.
	SendGuard func(run func())

	mu           sync.Mutex
	nextElements []models.Element
	nextFiles    models.Files
	orderSig     uint64
	hasOrderSig  bool
}

func New(senderID string, sender Sender, l *ledger.VersionLedger, interval time.Duration, log logger.Logger) *Broadcaster {
	if interval <= 0 {
		interval = constants.DefaultBroadcastInterval
	}
	b := &Broadcaster{
		senderID:    senderID,
		sender:      sender,
		ledger:      l,
		files:       ledger.NewFileTracker(),
		logger:      logger.OrDiscard(log),
		SendTimeout: constants.DefaultWSTimeout,
	}
	b.throttle = timer.NewThrottler(interval, b.flushLatest)
	return b
}

// Broadcast schedules a diff pass over the given scene. Calls are throttled
// with leading and trailing edges; the trailing pass uses the latest scene.
func (b *Broadcaster) Broadcast(elements []models.Element, files models.Files) {
	b.mu.Lock()
	b.nextElements = elements
	b.nextFiles = files
	b.mu.Unlock()

	b.throttle.Call()
}

func (b *Broadcaster) flushLatest() {
	b.mu.Lock()
	elements, files := b.nextElements, b.nextFiles
	b.nextElements, b.nextFiles = nil, nil
	b.mu.Unlock()

	if elements == nil && files == nil {
		return
	}

	ctx := context.Background()
	if b.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.SendTimeout)
		defer cancel()
	}
	if _, err := b.BroadcastNow(ctx, elements, files); err != nil {
		b.logger.Warn("failed to broadcast local changes", "error", err)
	}
}

// BroadcastNow runs one diff pass immediately and reports whether a
// message was sent. Ledger entries, file signatures and the order
// signature only advance after a successful send, so a failed pass is
// retried by the next one.
func (b *Broadcaster) BroadcastNow(ctx context.Context, elements []models.Element, files models.Files) (sent bool, err error) {
	run := func() { sent, err = b.diffAndSend(ctx, elements, files) }
	if b.SendGuard != nil {
		b.SendGuard(run)
	} else {
		run()
	}
	return sent, err
}

func (b *Broadcaster) diffAndSend(ctx context.Context, elements []models.Element, files models.Files) (bool, error) {
	sig := models.OrderSignature(elements)

	b.mu.Lock()
	orderChanged := !b.hasOrderSig || b.orderSig != sig
	b.mu.Unlock()

	changed := b.ledger.Changed(elements)
	changedFiles := b.files.Changed(files)

	if len(changed) == 0 && len(changedFiles) == 0 && !orderChanged {
		return false, nil
	}

	update := channel.ElementUpdate{
		SenderID: b.senderID,
		Elements: changed,
		Files:    changedFiles,
	}
	if orderChanged {
		update.Order = models.OrderIDs(elements)
	}

	if b.OnLocalChange != nil {
		b.OnLocalChange()
	}

	if err := b.sender.Send(ctx, channel.EventElementUpdate, update); err != nil {
		return false, err
	}

	b.ledger.RecordAll(changed)
	b.files.Mark(changedFiles)
	b.mu.Lock()
	b.orderSig, b.hasOrderSig = sig, true
	b.mu.Unlock()

	b.logger.Debug("broadcast local changes",
		"element_count", len(changed),
		"file_count", len(changedFiles),
		"order_changed", orderChanged,
	)
	return true, nil
}

// Seed records a scene as already known to every peer, typically the
// document as loaded.
func (b *Broadcaster) Seed(elements []models.Element, files models.Files) {
	b.ledger.RecordAll(elements)
	b.files.Mark(files)
	b.mu.Lock()
	b.orderSig, b.hasOrderSig = models.OrderSignature(elements), true
	b.mu.Unlock()
}

// NoteRemote records state that arrived from peers so it is not echoed.
// The ledger entries of applied elements are recorded by the flush
// scheduler; this covers the order and the files.
func (b *Broadcaster) NoteRemote(merged []models.Element, files models.Files) {
	b.files.Mark(files)
	if merged == nil {
		return
	}
	b.mu.Lock()
	b.orderSig, b.hasOrderSig = models.OrderSignature(merged), true
	b.mu.Unlock()
}

// Cancel drops a pending trailing pass.
func (b *Broadcaster) Cancel() {
	b.throttle.Cancel()
	b.mu.Lock()
	b.nextElements, b.nextFiles = nil, nil
	b.mu.Unlock()
}

// Stop cancels pending work and ignores later Broadcast calls.
func (b *Broadcaster) Stop() {
	b.throttle.Stop()
	b.Cancel()
}

// Reset forgets everything sent so far.
func (b *Broadcaster) Reset() {
	b.ledger.Reset()
	b.files.Reset()
	b.mu.Lock()
	b.orderSig, b.hasOrderSig = 0, false
	b.mu.Unlock()
}
