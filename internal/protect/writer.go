package protect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/reconcile"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/resync"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
)

// run is the writer goroutine. It is the only code that mutates the cache.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	events := c.src.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, ev)

		case res := <-c.ctrl.Results():
			if err := c.handleLoad(ctx, res); err != nil {
				// Stops the link too; Close still waits for it.
				c.cancel()
				return
			}

		case <-c.ctrl.RetryC():
			c.ctrl.OnRetry(ctx)

		case reason := <-c.resyncReq:
			c.logger.Info("resync requested", "reason", reason)
			c.ctrl.Desync(ctx, reason)
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventUp:
		c.epoch = ev.Epoch
		c.seq = 0
		c.buffer = nil
		c.decodeRuns = 0
		c.ctrl.LinkUp(ctx)

	case session.EventFrame:
		if ev.Epoch != c.epoch {
			return
		}
		c.handleFrame(ctx, ev.Data)

	case session.EventDown:
		c.discardBuffer()
		reason := "link down"
		if ev.Err != nil {
			reason = fmt.Sprintf("link down: %v", ev.Err)
		}
		c.ctrl.LinkDown(reason)

	case session.EventFatal:
		c.discardBuffer()
		c.ctrl.LinkDown("fatal")
		c.fail(ev.Err)
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	c.frames.Add(1)

	res, err := c.decoder.Decode(data)
	if err != nil {
		c.decodeErrors.Add(1)
		c.decodeRuns++
		c.observers.FrameDecoded(FrameInfo{Size: len(data), Err: err})
		c.logger.Warn("dropping undecodable message", "size", len(data), "consecutive", c.decodeRuns, "error", err)
		if c.decodeRuns >= c.cfg.Resync.DecodeErrorThreshold {
			c.decodeRuns = 0
			c.ctrl.Desync(ctx, fmt.Sprintf("%d consecutive decode errors", c.cfg.Resync.DecodeErrorThreshold))
		}
		return
	}
	c.decodeRuns = 0
	c.observers.FrameDecoded(FrameInfo{
		Size:       len(data),
		Format:     res.Format,
		Compressed: res.Compressed,
		Control:    res.Control != nil,
	})

	if res.Control != nil {
		c.controls.Add(1)
		return
	}

	m := res.Mutation
	c.seq++
	m.Revision.Seq = c.seq

	switch c.ctrl.State() {
	case resync.StateConnected:
		c.apply(ctx, m, len(data))

	case resync.StateResyncing:
		if len(c.buffer) >= c.cfg.Resync.BufferSize {
			// Dropped but counted: the sequence gap forces another resync.
			c.overflowed.Add(1)
			c.observers.MutationsDropped(1, true)
			c.logger.Warn("resync buffer full, dropping mutation", "id", m.ID, "seq", m.Revision.Seq)
			return
		}
		c.buffer = append(c.buffer, m)
		c.buffered.Add(1)

	default:
		c.dropped.Add(1)
		c.observers.MutationsDropped(1, false)
		c.logger.Debug("mutation dropped while desynced", "id", m.ID, "seq", m.Revision.Seq)
	}
}

// apply runs one mutation through the reconciler.
//
// Returns false when the mutation was rejected and a resync was requested.
func (c *Client) apply(ctx context.Context, m *entity.Mutation, size int) bool {
	res, err := c.reconciler.Apply(m)
	if err != nil {
		var rej *reconcile.RejectError
		if errors.As(err, &rej) {
			c.observers.MutationRejected(m, rej)
		}
		c.ctrl.Desync(ctx, err.Error())
		return false
	}

	c.observers.MutationApplied(m, res)
	if c.wsStats.Enabled() {
		c.wsStats.Record(WSStat{
			Model:    string(m.Model),
			Action:   string(m.Op),
			Keys:     m.Keys(),
			Size:     size,
			At:       time.Now(),
			Filtered: res.Filtered,
		})
	}
	return true
}

// handleLoad installs a fresh snapshot and replays the mutations buffered
// while it loaded.
//
// The buffer is trimmed against the snapshot: a buffered mutation carrying
// the snapshot's update id marks the point the snapshot already covers, so
// it and everything before it are dropped and its sequence number becomes
// the baseline. Otherwise every buffered mutation is replayed on top.
//
// A non-nil return is the load error that ended resynchronisation; the
// writer stops.
func (c *Client) handleLoad(ctx context.Context, res resync.Result) error {
	snap := c.ctrl.Complete(res)
	if snap == nil {
		if err := c.ctrl.Fatal(); err != nil {
			c.discardBuffer()
			c.fail(err)
			return err
		}
		return nil
	}

	buf := c.buffer
	c.buffer = nil

	rev := snap.Revision
	cut := -1
	for i, m := range buf {
		if m.Revision.UpdateID == rev.UpdateID {
			cut = i
		}
	}
	switch {
	case cut >= 0:
		rev.Seq = buf[cut].Revision.Seq
		buf = buf[cut+1:]
	case len(buf) > 0:
		rev.Seq = buf[0].Revision.Seq - 1
	default:
		rev.Seq = c.seq
	}
	snap.Revision = rev

	c.cache.Install(snap)
	c.installed.Store(true)
	c.setHealth(cache.Health{State: cache.LinkConnected})
	c.markReady()

	if c.store != nil {
		saveCtx, cancel := context.WithTimeout(ctx, DefaultSaveTimeout)
		if err := c.store.Save(saveCtx, c.cache.Snapshot()); err != nil {
			c.logger.Warn("snapshot save failed", "error", err)
		}
		cancel()
	}

	replayed := 0
	for i, m := range buf {
		if !c.apply(ctx, m, 0) {
			// The resync just requested gets the rest of the buffer.
			c.buffer = append(c.buffer, buf[i+1:]...)
			break
		}
		replayed++
	}
	c.logger.Info("snapshot installed",
		"revision", rev.UpdateID,
		"seq", rev.Seq,
		"entities", len(snap.Entities),
		"replayed", replayed,
		"requeued", len(c.buffer),
	)
	return nil
}

func (c *Client) discardBuffer() {
	if n := len(c.buffer); n > 0 {
		c.dropped.Add(uint64(n))
		c.observers.MutationsDropped(n, false)
		c.logger.Warn("discarding buffered mutations", "count", n)
	}
	c.buffer = nil
}

// onTransition maps resync state onto cache health. Connected is set by
// handleLoad once the snapshot is visible.
func (c *Client) onTransition(tr resync.Transition) {
	c.observers.ResyncTransition(tr)

	if tr.To == resync.StateConnected {
		return
	}

	h := cache.Health{Stale: true, Failures: tr.Failures}
	if tr.Err != nil {
		h.LastError = tr.Err.Error()
	} else if prev := c.cache.Health(); prev.LastError != "" && tr.Failures > 0 {
		h.LastError = prev.LastError
	}

	switch {
	case tr.Degraded:
		h.State = cache.LinkDegraded
	case tr.To == resync.StateResyncing:
		h.State = cache.LinkResyncing
	case !tr.LinkUp:
		h.State = cache.LinkReconnecting
	default:
		h.State = cache.LinkResyncing
	}
	c.setHealth(h)
}
