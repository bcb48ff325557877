package pcmio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SocialNOT/AgainINDIA/pkg/audio"
)

// ErrNoDevice is returned when neither a command nor a file is configured for
// a device direction.
var ErrNoDevice = errors.New("pcmio: no device configured")

var _ audio.Devices = (*Devices)(nil)

// RatePlaceholder is replaced by the sample rate in command arguments.
const RatePlaceholder = "{rate}"

// Config selects how each device direction is backed. A command takes
// precedence over a file.
type Config struct {
	// InputCommand is started per session; its stdout must carry mono s16le.
	InputCommand []string

	// InputFile is read as raw mono s16le.
	InputFile string

	// Realtime paces InputFile reads at the sample rate.
	Realtime bool

	// OutputCommand is started per session; mono s16le is written to its stdin.
	OutputCommand []string

	// OutputFile receives the rendered mono s16le stream.
	OutputFile string

	// RenderPeriod is the playback render loop interval. Default: 20ms.
	RenderPeriod time.Duration
}

// Devices opens process- or file-backed devices. Every Open call acquires a
// fresh handle that is released when the returned device is closed/stopped.
type Devices struct {
	cfg Config
}

// NewDevices returns Devices for cfg.
func NewDevices(cfg Config) *Devices {
	return &Devices{cfg: cfg}
}

// OpenCapture implements [audio.Devices].
func (d *Devices) OpenCapture(_ context.Context, sampleRate int) (audio.CaptureSource, error) {
	switch {
	case len(d.cfg.InputCommand) > 0:
		p, err := startProcess(ExpandArgs(d.cfg.InputCommand, sampleRate), false)
		if err != nil {
			return nil, fmt.Errorf("pcmio: open capture: %w", err)
		}
		return NewReaderSource(p, sampleRate), nil
	case d.cfg.InputFile != "":
		f, err := os.Open(d.cfg.InputFile)
		if err != nil {
			return nil, fmt.Errorf("pcmio: open capture: %w", err)
		}
		var opts []SourceOption
		if d.cfg.Realtime {
			opts = append(opts, WithRealtime())
		}
		return NewReaderSource(f, sampleRate, opts...), nil
	default:
		return nil, fmt.Errorf("pcmio: open capture: %w", ErrNoDevice)
	}
}

// OpenPlayback implements [audio.Devices].
func (d *Devices) OpenPlayback(_ context.Context, sampleRate int) (audio.PlaybackSink, error) {
	var w io.WriteCloser
	switch {
	case len(d.cfg.OutputCommand) > 0:
		p, err := startProcess(ExpandArgs(d.cfg.OutputCommand, sampleRate), true)
		if err != nil {
			return nil, fmt.Errorf("pcmio: open playback: %w", err)
		}
		w = p
	case d.cfg.OutputFile != "":
		f, err := os.Create(d.cfg.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("pcmio: open playback: %w", err)
		}
		w = f
	default:
		return nil, fmt.Errorf("pcmio: open playback: %w", ErrNoDevice)
	}
	return NewClockSink(w, sampleRate, WithPeriod(d.cfg.RenderPeriod)), nil
}

// ExpandArgs returns a copy of args with [RatePlaceholder] replaced by rate.
func ExpandArgs(args []string, rate int) []string {
	r := strconv.Itoa(rate)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, RatePlaceholder, r)
	}
	return out
}

// DefaultInputCommand returns an ffmpeg invocation capturing the default
// microphone on the current platform as mono s16le on stdout.
func DefaultInputCommand() []string {
	var src []string
	switch runtime.GOOS {
	case "darwin":
		src = []string{"-f", "avfoundation", "-i", ":0"}
	case "windows":
		src = []string{"-f", "dshow", "-i", "audio=default"}
	default:
		src = []string{"-f", "pulse", "-i", "default"}
	}
	args := []string{"ffmpeg", "-hide_banner", "-loglevel", "error", "-nostats"}
	args = append(args, src...)
	return append(args, "-ac", "1", "-ar", RatePlaceholder, "-f", "s16le", "-")
}

// DefaultOutputCommand returns an ffplay invocation playing mono s16le from
// stdin.
func DefaultOutputCommand() []string {
	return []string{
		"ffplay", "-hide_banner", "-loglevel", "error", "-nostats", "-nodisp",
		"-f", "s16le", "-ch_layout", "mono", "-ar", RatePlaceholder, "-i", "-",
	}
}

// process wraps an external recorder or player. Reads come from its stdout,
// writes go to its stdin. Close terminates it.
type process struct {
	cmd *exec.Cmd
	r   io.ReadCloser
	w   io.WriteCloser

	closeOnce sync.Once
}

func startProcess(argv []string, writer bool) (*process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	p := &process{cmd: cmd}

	var err error
	if writer {
		cmd.Stdout = io.Discard
		p.w, err = cmd.StdinPipe()
	} else {
		p.r, err = cmd.StdoutPipe()
	}
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	return p, nil
}

func (p *process) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *process) Write(b []byte) (int, error) { return p.w.Write(b) }

// Close closes the pipe, kills the process and reaps it.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		if p.w != nil {
			_ = p.w.Close()
		}
		if p.r != nil {
			_ = p.r.Close()
		}
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	})
	return nil
}
