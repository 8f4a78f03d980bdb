package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/smazurov/gpuenc/internal/logging"
)

// DefaultMaxPayload leaves room for key frames of high resolution streams.
const DefaultMaxPayload = 8 * 1024 * 1024

// RandomPort asks the embedded server to pick a free port.
const RandomPort = server.RANDOM_PORT

// ServerOptions configures the embedded NATS server.
type ServerOptions struct {
	// Port to listen on. Zero means 4222, RandomPort picks a free one.
	Port       int
	Host       string
	Name       string
	MaxPayload int32
	Logger     *slog.Logger
}

// DefaultServerOptions returns the settings used for unset ServerOptions fields.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		Port:       4222,
		Host:       "127.0.0.1",
		Name:       "gpuenc",
		MaxPayload: DefaultMaxPayload,
	}
}

// ServerStats is a traffic snapshot of the embedded server.
type ServerStats struct {
	Connections int   `json:"connections"`
	InMsgs      int64 `json:"in_msgs"`
	OutMsgs     int64 `json:"out_msgs"`
	InBytes     int64 `json:"in_bytes"`
	OutBytes    int64 `json:"out_bytes"`
	SlowClients int64 `json:"slow_consumers"`
}

// Server runs a NATS server inside the process so a single gpuenc binary
// can carry packets between capture and consumers without extra services.
type Server struct {
	ns     *server.Server
	opts   ServerOptions
	logger *slog.Logger
}

// NewServer creates a stopped embedded server.
func NewServer(opts ServerOptions) *Server {
	defaults := DefaultServerOptions()
	if opts.Port == 0 {
		opts.Port = defaults.Port
	}
	if opts.Host == "" {
		opts.Host = defaults.Host
	}
	if opts.Name == "" {
		opts.Name = defaults.Name
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = defaults.MaxPayload
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("nats")
	}

	return &Server{
		opts:   opts,
		logger: logger.With("component", "nats-server"),
	}
}

// Start runs the server and waits up to five seconds for it to accept clients.
// Server log lines are forwarded to the slog logger.
func (s *Server) Start() error {
	ns, err := server.NewServer(&server.Options{
		Host:           s.opts.Host,
		Port:           s.opts.Port,
		ServerName:     s.opts.Name,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		MaxPayload:     s.opts.MaxPayload,
	})
	if err != nil {
		return fmt.Errorf("create NATS server: %w", err)
	}

	debug := s.logger.Enabled(context.Background(), slog.LevelDebug)
	ns.SetLogger(&serverLogger{logger: s.logger}, debug, false)

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("NATS server not ready after 5s on %s:%d", s.opts.Host, s.opts.Port)
	}

	s.ns = ns
	s.logger.Info("NATS server started", "url", s.ClientURL(), "max_payload", s.opts.MaxPayload)
	return nil
}

// Stop shuts the server down and waits for client connections to close.
func (s *Server) Stop() {
	if s.ns == nil {
		return
	}
	s.logger.Info("Stopping NATS server")
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.ns = nil
}

// ClientURL returns the URL clients should use to connect.
func (s *Server) ClientURL() string {
	if s.ns == nil {
		return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
	}
	return s.ns.ClientURL()
}

// IsRunning returns true if the server is running and accepting connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	if s.ns == nil {
		return 0
	}
	return s.ns.NumClients()
}

// Stats returns message and byte counters since start.
func (s *Server) Stats() (ServerStats, error) {
	if s.ns == nil {
		return ServerStats{}, fmt.Errorf("NATS server is not running")
	}
	v, err := s.ns.Varz(nil)
	if err != nil {
		return ServerStats{}, err
	}
	return ServerStats{
		Connections: v.Connections,
		InMsgs:      v.InMsgs,
		OutMsgs:     v.OutMsgs,
		InBytes:     v.InBytes,
		OutBytes:    v.OutBytes,
		SlowClients: v.SlowConsumers,
	}, nil
}

// serverLogger adapts slog to the nats-server logger interface.
type serverLogger struct {
	logger *slog.Logger
}

func (l *serverLogger) Noticef(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l *serverLogger) Warnf(format string, v ...any)   { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l *serverLogger) Fatalf(format string, v ...any)  { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l *serverLogger) Errorf(format string, v ...any)  { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l *serverLogger) Debugf(format string, v ...any)  { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l *serverLogger) Tracef(format string, v ...any)  { l.logger.Debug(fmt.Sprintf(format, v...)) }
