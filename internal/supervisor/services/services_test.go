// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

func TestServiceInterfaces(t *testing.T) {
	var _ suture.Service = (*DetectionService)(nil)
	var _ suture.Service = (*HTTPServerService)(nil)
	var _ suture.Service = (*StoreGCService)(nil)
	var _ suture.Service = (*NATSServerService)(nil)
}

// mockEngine is a test double for DetectionEngine.
type mockEngine struct {
	runCount atomic.Int32
	runErr   error
}

func (m *mockEngine) RunWithContext(ctx context.Context) error {
	m.runCount.Add(1)
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestDetectionServiceServe(t *testing.T) {
	engine := &mockEngine{}
	svc := NewDetectionService(engine)

	if svc.String() != "detection-engine" {
		t.Errorf("String() = %q, want detection-engine", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	if engine.runCount.Load() != 1 {
		t.Errorf("engine ran %d times, want 1", engine.runCount.Load())
	}
}

func TestDetectionServicePropagatesError(t *testing.T) {
	wantErr := errors.New("scheduler crashed")
	svc := NewDetectionService(&mockEngine{runErr: wantErr})

	if err := svc.Serve(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Serve() error = %v, want %v", err, wantErr)
	}
}

// mockHTTPServer is a test double for HTTPServer.
type mockHTTPServer struct {
	listenErr     error
	shutdownErr   error
	shutdownCount atomic.Int32
	stopCh        chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(_ context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newMockHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	if server.shutdownCount.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", server.shutdownCount.Load())
	}
}

func TestHTTPServerServiceStartFailure(t *testing.T) {
	server := newMockHTTPServer()
	server.listenErr = errors.New("bind: address already in use")
	svc := NewHTTPServerService(server, time.Second)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("Serve() should fail when the listener cannot bind")
	}
}

func TestHTTPServerServiceDefaultTimeout(t *testing.T) {
	svc := NewHTTPServerService(newMockHTTPServer(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want 10s default", svc.shutdownTimeout)
	}
}

// mockGC is a test double for GarbageCollector.
type mockGC struct {
	runs atomic.Int32
	err  error
}

func (m *mockGC) RunGC() error {
	m.runs.Add(1)
	return m.err
}

func TestStoreGCServiceRunsOnInterval(t *testing.T) {
	gc := &mockGC{}
	svc := NewStoreGCService(gc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(55 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	if gc.runs.Load() < 2 {
		t.Errorf("GC ran %d times in 55ms at a 10ms interval, want >= 2", gc.runs.Load())
	}
}

func TestStoreGCServiceSurvivesGCError(t *testing.T) {
	gc := &mockGC{err: errors.New("value log rejected")}
	svc := NewStoreGCService(gc, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v, want context.DeadlineExceeded", err)
	}
	if gc.runs.Load() < 2 {
		t.Errorf("GC errors should not stop the loop, ran %d times", gc.runs.Load())
	}
}

// mockBroker is a test double for EmbeddedBroker.
type mockBroker struct {
	running       bool
	shutdownCount atomic.Int32
}

func (m *mockBroker) IsRunning() bool { return m.running }

func (m *mockBroker) Shutdown(_ context.Context) error {
	m.shutdownCount.Add(1)
	return nil
}

func TestNATSServerServiceShutdownOnCancel(t *testing.T) {
	broker := &mockBroker{running: true}
	svc := NewNATSServerService(broker, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	if broker.shutdownCount.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", broker.shutdownCount.Load())
	}
}

func TestNATSServerServiceDeadBroker(t *testing.T) {
	svc := NewNATSServerService(&mockBroker{running: false}, time.Second)
	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("Serve() should fail when the broker is not running")
	}
}
