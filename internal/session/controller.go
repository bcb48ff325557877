// Package session runs one real-time duplex voice conversation.
//
// A [Controller] opens the transport, acquires the capture and playback
// devices, and then runs two activities side by side until the session
// ends: the capture pipeline pushing microphone frames out, and the dispatch
// loop routing inbound messages to the playback scheduler and the turn
// aggregator. Neither activity waits on the other.
//
// A Controller is single-use. Once it reaches [StateDisconnected] a new one
// must be created; nothing is reused across sessions. The session never
// reconnects on its own.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/SocialNOT/AgainINDIA/internal/capture"
	"github.com/SocialNOT/AgainINDIA/internal/observe"
	"github.com/SocialNOT/AgainINDIA/internal/playback"
	"github.com/SocialNOT/AgainINDIA/internal/turn"
	"github.com/SocialNOT/AgainINDIA/pkg/audio"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// ReasonClientDisconnect is the OnDisconnected reason for a user-initiated
// [Controller.Disconnect].
const ReasonClientDisconnect = "client disconnect"

var (
	// ErrNotIdle is returned by Connect on a controller that has already
	// been started.
	ErrNotIdle = errors.New("session: controller already used")

	// ErrDevice wraps failures of the capture or playback device.
	ErrDevice = errors.New("session: audio device failure")

	// ErrTransport wraps failures of the transport connection, including
	// errors reported by the remote endpoint.
	ErrTransport = errors.New("session: transport failure")
)

// Callbacks receives session events. Any field may be nil. Audio, transcript
// and turn callbacks run on the dispatch goroutine and must not block.
type Callbacks struct {
	// OnAudioLevel receives the RMS amplitude of each scheduled buffer.
	OnAudioLevel func(level float64)

	// OnTranscriptUpdate receives the open turn's text after each fragment.
	OnTranscriptUpdate func(speaker transport.Speaker, text string)

	// OnTurnCommitted receives every committed turn exactly once.
	OnTurnCommitted func(speaker transport.Speaker, text string)

	// OnDisconnected is called exactly once per connect attempt, when the
	// session reaches StateDisconnected.
	OnDisconnected func(reason string)

	// OnStateChange observes lifecycle transitions.
	OnStateChange func(State)
}

// Config configures a [Controller].
type Config struct {
	// Transport opens the connection to the voice endpoint. Required.
	Transport transport.Transport

	// Devices opens the microphone and speaker. Required.
	Devices audio.Devices

	// CaptureRate is the microphone rate in Hz. Defaults to 16000.
	CaptureRate int

	// PlaybackRate is the speaker rate in Hz. Defaults to 24000.
	PlaybackRate int

	// ChunkSize is the samples per outbound frame. Defaults to 4096.
	ChunkSize int

	// SendQueue is the outbound queue depth. Defaults to 4.
	SendQueue int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// DefaultPlaybackRate is the speaker rate used when Config.PlaybackRate is zero.
const DefaultPlaybackRate = 24000

// Controller owns the lifecycle of a single voice session.
//
// All methods are safe for concurrent use.
type Controller struct {
	cfg Config
	id  string

	mu            sync.Mutex
	state         State
	cb            Callbacks
	connectCancel context.CancelFunc
	cancel        context.CancelFunc
	conn          transport.Conn
	pipeline      *capture.Pipeline
	scheduler     *playback.Scheduler
	agg           *turn.Aggregator
	muted         bool
	committed     []turn.Turn
	err           error

	interrupts chan struct{}
	groupDone  chan struct{}
	done       chan struct{}
}

// New returns an idle Controller.
func New(cfg Config) *Controller {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = capture.DefaultSampleRate
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = capture.DefaultChunkSize
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = capture.DefaultSendQueue
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		cfg:        cfg,
		id:         uuid.NewString(),
		interrupts: make(chan struct{}, 1),
		groupDone:  make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (c *Controller) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the session has been torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the session, or nil if it ended by
// [Controller.Disconnect] or is still running.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Turns returns the turns committed so far, oldest first.
func (c *Controller) Turns() []turn.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]turn.Turn, len(c.committed))
	copy(out, c.committed)
	return out
}

// Connect opens the transport with cfg, acquires both audio devices and
// starts the session. cfg is forwarded to the transport untouched.
//
// Connect returns once the session is active. On failure the session moves
// straight to [StateDisconnected], OnDisconnected fires with the failure,
// everything opened so far is released, and the returned error wraps
// [ErrTransport] or [ErrDevice]. No retry is attempted.
func (c *Controller) Connect(ctx context.Context, cfg transport.Config, cb Callbacks) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.cb = cb
	connectCtx, connectCancel := context.WithCancel(ctx)
	c.connectCancel = connectCancel
	c.state = StateConnecting
	c.mu.Unlock()
	defer connectCancel()
	c.notifyState(StateConnecting)

	start := time.Now()
	connectCtx, span := observe.StartSpan(observe.WithSession(connectCtx, c.id), "session.connect")
	defer span.End()
	log := observe.Logger(connectCtx)

	conn, sink, src, err := c.open(connectCtx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("session connect failed", "err", err)
		c.fail(connectCtx, err)
		return err
	}

	m := c.cfg.Metrics
	agg := turn.New(
		turn.WithOnUpdate(c.transcriptUpdated),
		turn.WithOnCommit(c.turnCommitted),
	)
	sched := playback.New(sink, c.cfg.PlaybackRate, playback.WithMetrics(m))
	pipe := capture.New(src, conn,
		capture.WithChunkSize(c.cfg.ChunkSize),
		capture.WithSampleRate(c.cfg.CaptureRate),
		capture.WithSendQueue(c.cfg.SendQueue),
		capture.WithMetrics(m),
	)

	// The session outlives the connect call but keeps its trace.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(connectCtx))

	c.mu.Lock()
	if err := connectCtx.Err(); err != nil {
		// Disconnect raced with the last open step.
		c.mu.Unlock()
		cancel()
		_ = pipe.Close()
		_ = sched.Close()
		_ = conn.Close()
		err = fmt.Errorf("%w: %w", ErrTransport, err)
		c.fail(connectCtx, err)
		return err
	}
	pipe.SetMuted(c.muted)
	c.conn = conn
	c.pipeline = pipe
	c.scheduler = sched
	c.agg = agg
	c.cancel = cancel
	c.connectCancel = nil
	c.state = StateActive
	m.ActiveSessions.Add(connectCtx, 1)
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return c.dispatch(gctx, conn, sched, agg) })
	go c.monitor(runCtx, g)

	m.RecordConnectDuration(connectCtx, time.Since(start).Seconds())
	c.notifyState(StateActive)
	log.Info("session active", "connect_duration", time.Since(start))
	return nil
}

// open acquires the transport and both devices in order, releasing
// whatever was acquired if a later step fails.
func (c *Controller) open(ctx context.Context, cfg transport.Config) (transport.Conn, audio.PlaybackSink, audio.CaptureSource, error) {
	conn, err := c.cfg.Transport.Open(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: open: %w", ErrTransport, err)
	}
	sink, err := c.cfg.Devices.OpenPlayback(ctx, c.cfg.PlaybackRate)
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("%w: open playback: %w", ErrDevice, err)
	}
	src, err := c.cfg.Devices.OpenCapture(ctx, c.cfg.CaptureRate)
	if err != nil {
		_ = sink.Stop()
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("%w: open capture: %w", ErrDevice, err)
	}
	return conn, sink, src, nil
}

// SetMuted toggles the microphone. It is a local decision; nothing is sent
// to the endpoint.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	pipe := c.pipeline
	c.mu.Unlock()
	if pipe != nil {
		pipe.SetMuted(muted)
	}
}

// Muted reports whether the microphone is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Interrupt stops the remote voice locally: queued playback is discarded and
// the partial remote turn is committed, exactly as if the endpoint had sent
// Interrupted. The dispatch loop applies it after the inbound messages that
// were already buffered when it picks the request up, so audio received
// before the call is cancelled too. It is a no-op unless the session is
// active.
func (c *Controller) Interrupt() {
	if c.State() != StateActive {
		return
	}
	select {
	case c.interrupts <- struct{}{}:
	default:
		// One is already pending.
	}
}

// Disconnect ends the session and returns once every resource has been
// released. Calling it again, or on a session that has already ended, is a
// no-op. If a connect or a teardown is in progress, Disconnect waits for it
// to finish. It must not be called from a [Callbacks] function.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateDisconnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		// Connect notices the cancellation and reports the failure.
		c.connectCancel()
		c.mu.Unlock()
		<-c.done
		return nil
	case StateDisconnecting:
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.mu.Unlock()
	return c.teardown(context.Background(), nil)
}

// monitor waits for both activities to stop. A non-nil error from either
// one is fatal and ends the session.
func (c *Controller) monitor(ctx context.Context, g *errgroup.Group) {
	err := g.Wait()
	close(c.groupDone)
	if err == nil {
		return
	}
	if errors.Is(err, capture.ErrDevice) {
		err = fmt.Errorf("%w: %w", ErrDevice, err)
	}
	if terr := c.teardown(ctx, err); terr != nil {
		observe.Logger(ctx).Warn("session teardown", "err", terr)
	}
}

// teardown releases everything the session holds. Only the first call does
// any work. cause is nil for a user-initiated disconnect.
func (c *Controller) teardown(ctx context.Context, cause error) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	cancel, pipe, sched, conn, agg := c.cancel, c.pipeline, c.scheduler, c.conn, c.agg
	c.mu.Unlock()
	c.notifyState(StateDisconnecting)

	ctx = observe.WithSession(ctx, c.id)
	log := observe.Logger(ctx)
	if cause != nil {
		log.Error("session ended", "err", cause)
		c.cfg.Metrics.RecordSessionError(ctx, errKind(cause))
	}

	var errs []error
	cancel()
	if err := pipe.Close(); err != nil {
		errs = append(errs, err)
	}
	<-c.groupDone

	// Both activities have stopped, so the aggregator is no longer shared.
	agg.Flush()

	if err := sched.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session: close transport: %w", err))
	}
	c.cfg.Metrics.ActiveSessions.Add(ctx, -1)

	reason := ReasonClientDisconnect
	if cause != nil {
		reason = cause.Error()
	}
	c.finish(cause)
	log.Info("session disconnected", "reason", reason)
	c.disconnected(reason)
	return errors.Join(errs...)
}

// fail ends a session that never became active.
func (c *Controller) fail(ctx context.Context, err error) {
	c.cfg.Metrics.RecordSessionError(ctx, errKind(err))
	c.finish(err)
	c.disconnected(err.Error())
}

// finish moves to StateDisconnected and closes Done.
func (c *Controller) finish(cause error) {
	c.mu.Lock()
	c.err = cause
	c.state = StateDisconnected
	c.connectCancel = nil
	c.mu.Unlock()
	c.notifyState(StateDisconnected)
	close(c.done)
}

func (c *Controller) disconnected(reason string) {
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected(reason)
	}
}

func (c *Controller) notifyState(s State) {
	slog.Debug("session state", "session_id", c.id, "state", s)
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(s)
	}
}

func (c *Controller) transcriptUpdated(speaker transport.Speaker, text string) {
	if c.cb.OnTranscriptUpdate != nil {
		c.cb.OnTranscriptUpdate(speaker, text)
	}
}

func (c *Controller) turnCommitted(t turn.Turn) {
	c.mu.Lock()
	c.committed = append(c.committed, t)
	c.mu.Unlock()
	c.cfg.Metrics.RecordTurnCommitted(context.Background(), t.Speaker.String())
	if c.cb.OnTurnCommitted != nil {
		c.cb.OnTurnCommitted(t.Speaker, t.Text)
	}
}

// errKind classifies a fatal error for the session error counter.
func errKind(err error) string {
	switch {
	case errors.Is(err, errRemote):
		return "remote"
	case errors.Is(err, ErrDevice):
		return "device"
	default:
		return "transport"
	}
}
