package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"devserve/internal/logging"

	"golang.org/x/sync/errgroup"
)

const serverShutdownTimeout = 5 * time.Second

type ManagedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

type ServerRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

type serverError struct {
	name string
	err  error
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s server: %v", e.name, e.err)
}

func (e *serverError) Unwrap() error {
	return e.err
}

// Run serves every server until stop is done or one of them fails, then
// shuts all of them down. It returns the first serve failure, if any.
func (runner *ServerRunner) Run(stop context.Context, servers ...ManagedServer) *serverError {
	group, groupCtx := errgroup.WithContext(stop)
	started := 0
	for _, server := range servers {
		server := server
		if server.Serve == nil {
			continue
		}
		started++
		group.Go(func() error {
			err := server.Serve()
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				if groupCtx.Err() != nil {
					return nil
				}
				if err == nil {
					err = errors.New("stopped unexpectedly")
				}
			}
			serveErr := &serverError{name: server.Name, err: err}
			runner.logServerError(serveErr)
			return serveErr
		})
	}
	if started == 0 {
		return nil
	}

	group.Go(func() error {
		<-groupCtx.Done()
		runner.shutdown(servers)
		return nil
	})

	err := group.Wait()
	var serveErr *serverError
	if errors.As(err, &serveErr) {
		return serveErr
	}
	return nil
}

func (runner *ServerRunner) shutdown(servers []ManagedServer) {
	timeout := runner.ShutdownTimeout
	if timeout <= 0 {
		timeout = serverShutdownTimeout
	}
	shutdownContext, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(shutdownContext); err != nil && runner.Logger != nil {
			runner.Logger.Warn(fmt.Sprintf("%s server shutdown failed", server.Name), map[string]string{
				"error": err.Error(),
			})
		}
	}
}

func (runner *ServerRunner) logServerError(serverErr *serverError) {
	if runner == nil || runner.Logger == nil || serverErr == nil || serverErr.err == nil {
		return
	}
	runner.Logger.Error("server stopped", map[string]string{
		"server": serverErr.name,
		"error":  serverErr.err.Error(),
	})
}
