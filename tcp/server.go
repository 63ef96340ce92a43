package tcp

/*
 * A tcp server dispatching connections to a capped worker pool
 */

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/verdis-db/verdis/interface/tcp"
	"github.com/verdis-db/verdis/lib/logger"
)

// Config stores tcp server properties
type Config struct {
	Address    string        `yaml:"address"`
	MaxConnect int           `yaml:"max-connect"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ListenAndServeWithSignal binds port and handles requests, blocking until receiving a stop signal
func ListenAndServeWithSignal(cfg *Config, handler tcp.Handler) error {
	closeChan := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT:
			closeChan <- struct{}{}
		}
	}()
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("bind: %s, start listening...", cfg.Address))
	ListenAndServe(listener, handler, cfg.MaxConnect, closeChan)
	return nil
}

// ListenAndServe binds port and handles requests, blocking until close.
// maxConnect caps the number of concurrently served clients, connections
// beyond the cap wait for a worker to free up.
func ListenAndServe(listener net.Listener, handler tcp.Handler, maxConnect int, closeChan <-chan struct{}) {
	errCh := make(chan error, 1)
	defer close(errCh)
	go func() {
		select {
		case <-closeChan:
			logger.Info("get exit signal")
		case er := <-errCh:
			logger.Info(fmt.Sprintf("accept error: %s", er.Error()))
		}
		logger.Info("shutting down...")
		_ = listener.Close() // listener.Accept() will return err immediately
		_ = handler.Close()  // close connections
	}()

	if maxConnect <= 0 {
		maxConnect = 1000
	}
	pool, err := ants.NewPool(maxConnect, ants.WithNonblocking(false))
	if err != nil {
		errCh <- err
		return
	}
	defer pool.Release()

	ctx := context.Background()
	var waitDone sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			// learn from net/http/serve.go#Serve()
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("accept occurs temporary error: %v, retry in 5ms", err)
				time.Sleep(5 * time.Millisecond)
				continue
			}
			errCh <- err
			break
		}
		waitDone.Add(1)
		c := conn
		submitErr := pool.Submit(func() {
			defer waitDone.Done()
			handler.Handle(ctx, c)
		})
		if submitErr != nil {
			waitDone.Done()
			logger.Warn("connection refused, worker pool exhausted")
			_ = c.Close()
		}
	}
	waitDone.Wait()
}
