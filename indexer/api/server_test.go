package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestNewServer(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	server := NewServer(logger, 8080, nil, nil)
	assert.NotNil(t, server.server)
	assert.Equal(t, ":8080", server.server.Addr)
	assert.NotNil(t, server.Handler())
}

func TestServerStartStop(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	t.Run("Start and stop server", func(t *testing.T) {
		server := NewServer(logger, freePort(t), nil, nil)
		require.NoError(t, server.Start())
		assert.NoError(t, server.Stop())
	})

	t.Run("Start fails when port is taken", func(t *testing.T) {
		ln, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		defer ln.Close()

		server := NewServer(logger, ln.Addr().(*net.TCPAddr).Port, nil, nil)
		err = server.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind")
	})

	t.Run("Start with nil server", func(t *testing.T) {
		server := &Server{logger: logger}
		err := server.Start()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "query server is nil")
	})

	t.Run("Stop with nil server", func(t *testing.T) {
		server := &Server{logger: logger}
		assert.NoError(t, server.Stop())
	})
}

func TestServerRun(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	port := freePort(t)
	server := NewServer(logger, port, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
