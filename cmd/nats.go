package cmd

import (
	"fmt"

	"github.com/smazurov/gpuenc/internal/config"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/nats"
)

// StartNATS starts the embedded server when enabled and returns the URL
// clients should connect to, empty when NATS is not configured. The
// returned stop function is never nil.
func StartNATS(opts *config.Options) (string, func(), error) {
	url := opts.NatsURL
	if !opts.NatsEmbedded {
		return url, func() {}, nil
	}

	srv := nats.NewServer(nats.ServerOptions{
		Port:   opts.NatsPort,
		Logger: logging.GetLogger("nats"),
	})
	if err := srv.Start(); err != nil {
		return "", func() {}, fmt.Errorf("start embedded NATS: %w", err)
	}
	if url == "" {
		url = srv.ClientURL()
	}
	return url, srv.Stop, nil
}
