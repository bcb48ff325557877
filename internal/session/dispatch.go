package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/SocialNOT/AgainINDIA/internal/observe"
	"github.com/SocialNOT/AgainINDIA/internal/playback"
	"github.com/SocialNOT/AgainINDIA/internal/turn"
	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// errRemote marks an error reported by the endpoint itself.
var errRemote = errors.New("remote error")

// dispatch routes inbound messages, in arrival order, until ctx is cancelled
// or the connection ends. A local interrupt is applied on the same loop after
// every message already buffered when it is picked up, so audio received
// before the request is cancelled by it rather than played after it.
func (c *Controller) dispatch(ctx context.Context, conn transport.Receiver, sched *playback.Scheduler, agg *turn.Aggregator) error {
	msgs := conn.Messages()
	for {
		select {
		case <-c.interrupts:
			if err := c.localInterrupt(ctx, msgs, sched, agg); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil

		case <-c.interrupts:
			if err := c.localInterrupt(ctx, msgs, sched, agg); err != nil {
				return err
			}

		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return c.connectionLost()
			}
			if err := c.handle(ctx, msg, sched, agg); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, msg transport.Message, sched *playback.Scheduler, agg *turn.Aggregator) error {
	switch m := msg.(type) {
	case transport.AudioChunk:
		p, err := sched.Schedule(ctx, m.Chunk)
		switch {
		case errors.Is(err, audio.ErrMalformedFrame):
			observe.Logger(ctx).Warn("dropping malformed audio chunk",
				"bytes", len(m.Chunk.Data), "err", err)
			return nil
		case errors.Is(err, playback.ErrClosed):
			return nil
		case err != nil:
			return fmt.Errorf("%w: %w", ErrDevice, err)
		}
		if p.Duration > 0 && c.cb.OnAudioLevel != nil {
			c.cb.OnAudioLevel(p.Level)
		}

	case transport.InterimTranscript:
		agg.Transcript(m.Speaker, m.Text, m.Delta)

	case transport.TurnComplete:
		sched.EndUtterance()
		agg.TurnComplete()

	case transport.Interrupted:
		c.interrupt(ctx, sched, agg)

	case transport.Error:
		return fmt.Errorf("%w: %w: %s", ErrTransport, errRemote, m.Reason)
	}
	return nil
}

// localInterrupt handles the messages buffered in msgs at the time of the
// call and then interrupts. A closed stream is left for the main loop.
func (c *Controller) localInterrupt(ctx context.Context, msgs <-chan transport.Message, sched *playback.Scheduler, agg *turn.Aggregator) error {
	for n := len(msgs); n > 0; n-- {
		msg, ok := <-msgs
		if !ok {
			break
		}
		if err := c.handle(ctx, msg, sched, agg); err != nil {
			return err
		}
	}
	c.interrupt(ctx, sched, agg)
	return nil
}

// interrupt stops queued playback first and only then closes the remote
// turn, so the committed text matches what was actually heard.
func (c *Controller) interrupt(ctx context.Context, sched *playback.Scheduler, agg *turn.Aggregator) {
	n := sched.Interrupt(ctx)
	agg.Interrupted()
	observe.Logger(ctx).Debug("remote voice interrupted", "cancelled_buffers", n)
}

// connectionLost builds the fatal error for an inbound stream that ended
// while the session was still active.
func (c *Controller) connectionLost() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if err := conn.Err(); err != nil {
		return fmt.Errorf("%w: connection lost: %w", ErrTransport, err)
	}
	return fmt.Errorf("%w: connection closed by remote", ErrTransport)
}
