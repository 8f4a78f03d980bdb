package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/gpuenc/internal/capture"
	"github.com/smazurov/gpuenc/internal/config"
	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/metrics/collectors"
	"github.com/smazurov/gpuenc/internal/metrics/exporters"
	"github.com/smazurov/gpuenc/internal/nats"
	"github.com/smazurov/gpuenc/internal/types"
	"github.com/spf13/cobra"
)

// runOptions are the flags of the run command.
type runOptions struct {
	SessionID string
	Frames    int
	CPU       bool
	RenderLag time.Duration
}

// CreateRunCmd creates the run command.
func CreateRunCmd(opts *config.Options) *cobra.Command {
	var ro runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Encode a synthetic frame source",
		Long: `Runs one capture against the configured encoder, feeding it generated frames at the configured frame rate. ` +
			`Packets are published to NATS when a URL is configured, and control commands received on NATS pause, resume or stop the capture.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCapture(ctx, opts, ro, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&ro.SessionID, "session", "capture-1", "Session ID used for NATS subjects and metrics")
	cmd.Flags().IntVar(&ro.Frames, "frames", 0, "Stop after this many frames, 0 runs until interrupted")
	cmd.Flags().BoolVar(&ro.CPU, "cpu", false, "Submit CPU buffers instead of GPU render targets")
	cmd.Flags().DurationVar(&ro.RenderLag, "render-lag", time.Millisecond, "Delay before each synthetic GPU frame's fence signals")

	return cmd
}

func runCapture(ctx context.Context, opts *config.Options, ro runOptions, out io.Writer) error {
	logger := logging.GetLogger("capture").With("session_id", ro.SessionID)

	encCfg, err := opts.EncoderConfig()
	if err != nil {
		return fmt.Errorf("encoder config: %w", err)
	}
	loader, err := opts.DriverLoader()
	if err != nil {
		return err
	}
	registry := driver.NewRegistry(loader, logging.GetLogger("driver"))

	bus := events.New()
	factoryOpts, err := opts.FactoryOptions(registry)
	if err != nil {
		return err
	}
	factoryOpts.OnStateChange = capture.StatePublisher(bus)
	factoryOpts.OnFrameDropped = capture.DropPublisher(bus)
	factory := encoder.NewFactory(factoryOpts)

	enc := factory.CreateSessionEncoder(opts.OutputFormat(), ro.SessionID)
	if enc == nil {
		return fmt.Errorf("output format %q is not available", opts.EncoderFormat)
	}

	encCollector := collectors.NewEncoderCollector(bus)
	if err := encCollector.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = encCollector.Stop() }()

	driverCollector := collectors.NewDriverCollector(registry, opts.StatsInterval())
	if err := driverCollector.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = driverCollector.Stop() }()

	if opts.MetricsAddr != "" {
		go func() {
			if err := exporters.Serve(ctx, opts.MetricsAddr); err != nil {
				logger.Error("Metrics listener failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
	}

	natsURL, stopNATS, err := StartNATS(opts)
	if err != nil {
		return err
	}
	defer stopNATS()

	var sink capture.Sink
	var client *nats.SessionClient
	if natsURL != "" {
		client = nats.NewSessionClient(natsURL, ro.SessionID, nil)
		if err := client.Connect(); err != nil {
			client = nil
		} else {
			defer client.Close()
			defer client.ForwardEvents(bus)()
			sink = client
		}
	}

	ctrl := capture.NewController(capture.Options{
		Encoder: enc,
		Sink:    sink,
		Bus:     bus,
	})

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	if client != nil {
		client.OnControl(func(msg nats.ControlMessage) {
			handleControl(ctrl, msg, func() { stopOnce.Do(func() { close(stopCh) }) }, logger)
		})
	}

	if err := ctrl.Start(capture.Config{
		Encoder:        encCfg,
		FrameRate:      float64(opts.EncoderFrameRate),
		LimitFrameRate: opts.EncoderLimitFPS,
	}); err != nil {
		return err
	}

	statsCtx, cancelStats := context.WithCancel(ctx)
	defer cancelStats()
	go ctrl.ReportStats(statsCtx, opts.StatsInterval())

	src := newSyntheticSource(encCfg.Resolution, ro.CPU, ro.RenderLag)
	fps := opts.EncoderFrameRate
	if fps <= 0 {
		fps = int(capture.DefaultFrameRate)
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	started := time.Now()
	sent := 0
loop:
	for ro.Frames == 0 || sent < ro.Frames {
		select {
		case <-ctx.Done():
			break loop
		case <-stopCh:
			logger.Info("Stop requested over NATS")
			break loop
		case tick := <-ticker.C:
			src.submit(ctrl, tick.Sub(started).Seconds(), sent == 0)
			sent++
			ctrl.Poll()
		}
	}

	cancelStats()
	if err := ctrl.Stop(); err != nil && !errors.Is(err, capture.ErrNotCapturing) {
		return err
	}
	if client != nil {
		if err := client.Flush(); err != nil {
			logger.Warn("Failed to flush NATS connection", "error", err)
		}
	}

	stats := ctrl.Stats()
	encStats, _ := ctrl.EncoderStats()
	logger.Info("Capture finished",
		"submitted", stats.Submitted,
		"forwarded", stats.Forwarded,
		"packets", stats.PacketsWritten,
		"encoded", encStats.EncodedFrames,
		"dropped", encStats.DroppedFrames)

	_, err = fmt.Fprintf(out, "session %s: %d frames submitted, %d forwarded, %d encoded, %d dropped, %d packets written\n",
		ro.SessionID, stats.Submitted, stats.Forwarded, encStats.EncodedFrames, encStats.DroppedFrames, stats.PacketsWritten)
	return err
}

// handleControl applies one NATS control command to ctrl.
func handleControl(ctrl *capture.Controller, msg nats.ControlMessage, stop func(), logger *slog.Logger) {
	var err error
	switch msg.Action {
	case nats.ActionPause:
		err = ctrl.Pause()
	case nats.ActionResume:
		err = ctrl.Resume()
	case nats.ActionStop:
		stop()
	default:
		logger.Warn("Ignoring unknown control action", "action", msg.Action)
		return
	}
	if err != nil {
		logger.Warn("Control command failed", "action", msg.Action, "reason", msg.Reason, "error", err)
	}
}

// syntheticSource produces frames of a fixed size, either GPU render
// targets guarded by a fence or CPU BGRA buffers.
type syntheticSource struct {
	res    types.Resolution
	cpu    bool
	lag    time.Duration
	target frame.RenderTarget
	buf    []byte
	seq    byte
}

func newSyntheticSource(res types.Resolution, cpu bool, lag time.Duration) *syntheticSource {
	s := &syntheticSource{res: res, cpu: cpu, lag: lag}
	if cpu {
		s.buf = make([]byte, types.PixelBGRA8.BufferSize(res))
	} else {
		s.target = frame.TextureTarget{Tex: frame.NewStaticTexture(res, types.PixelBGRA8)}
	}
	return s
}

func (s *syntheticSource) submit(ctrl *capture.Controller, timestamp float64, keyFrame bool) bool {
	s.seq++
	if s.cpu {
		// Only the first row changes between frames.
		row := min(len(s.buf), s.res.Width*types.PixelBGRA8.BytesPerPixel())
		for i := range row {
			s.buf[i] = s.seq
		}
		return ctrl.SubmitCPU(s.buf, s.res, types.PixelBGRA8, timestamp, keyFrame)
	}

	if s.lag <= 0 {
		return ctrl.SubmitGPU(s.target, frame.SignaledFence{}, timestamp, keyFrame)
	}
	fence := frame.NewChannelFence()
	fence.SignalAfter(s.lag)
	return ctrl.SubmitGPU(s.target, fence, timestamp, keyFrame)
}
