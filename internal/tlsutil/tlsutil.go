// Package tlsutil builds tls.Config values for the orchestrator's optional
// HTTPS/WSS listener. Unlike the reference jobworker's gRPC transport,
// execcore authenticates over the WebSocket protocol itself, via a job token
// carried in the first client frame, rather than via mTLS, so only a
// server-side certificate is needed here.
package tlsutil

import (
	"crypto/tls"
	"fmt"
)

// NewServerTLSConfig creates a tls.Config for serving the orchestrator's
// WebSocket endpoint over TLS. An empty certFile/keyFile pair is not valid;
// callers should skip TLS entirely (plain ws://) rather than call this with
// empty paths.
func NewServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert & key: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}
