// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command esnode-agent runs one telemetry agent process for a single
// GPU-dense compute node. It is flag-free by design: all configuration
// comes from environment variables, optionally layered on a local
// .env file for development.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esnode-project/esnode-agent/internal/agent"
	"github.com/esnode-project/esnode-agent/internal/config"
	"github.com/esnode-project/esnode-agent/internal/elog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config.LoadDotEnvIfPresent("")

	cfg := config.Default()
	config.ApplyEnvOverlay(&cfg)

	if err := config.Validate(cfg); err != nil {
		elog.Errorf("esnode-agent: invalid configuration: %v", err)
		os.Exit(1)
	}

	a := agent.New(cfg)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		elog.Info("esnode-agent: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			elog.Errorf("esnode-agent: shutdown: %v", err)
		}
	}()

	if err := a.Run(); err != nil {
		elog.Errorf("esnode-agent: %v", err)
		os.Exit(1)
	}
}
