package services

import (
	"context"

	"go.uber.org/zap"
)

// Shutdown stops the HTTP server, waits for background tasks up to the
// context deadline, then tears down the backend connections.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.httpServer != nil {
		m.log.Info("stopping http server")
		if err := m.httpServer.Shutdown(ctx); err != nil {
			m.log.Warn("http server shutdown", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("background tasks finished")
	case <-ctx.Done():
		m.log.Warn("timeout waiting for background tasks")
	}

	if m.natsConn != nil {
		m.log.Info("closing nats connection")
		m.natsConn.Close()
	}

	if m.mongoClient != nil {
		m.log.Info("disconnecting mongodb")
		if err := m.mongoClient.Disconnect(ctx); err != nil {
			m.log.Warn("mongodb disconnect", zap.Error(err))
		}
	}
}
