// Package main for the kiln node executable.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/kilnstore/kiln/kernel"
)

var configPath = flag.String("config", "", "path to the kiln config file (YAML)")

// NOTE: set by ldflags.
var (
	version string
	build   string
)

func main() {
	os.Exit(run())
}

// run loads config, boots the kernel, blocks until an interrupt or
// terminate signal, and shuts the kernel down cleanly. Everything past
// "read the flag, boot, wait for a signal" (HTTP/gRPC admin surface,
// multi-node clustering, CLI argument parsing beyond a bare config
// path) is external per spec §1's Non-goals; this binary exists only to
// give the kernel façade a process to run inside.
func run() int {
	flag.Parse()
	glog.Infof("kilnd %s (build %s) starting", version, build)

	if *configPath == "" {
		glog.Errorf("kilnd: -config is required")
		return 1
	}

	cfg, err := kernel.LoadConfig(*configPath)
	if err != nil {
		glog.Errorf("kilnd: loading config %s: %v", *configPath, err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	k, err := kernel.Boot(ctx, cfg)
	if err != nil {
		glog.Errorf("kilnd: boot failed: %v", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	glog.Infof("kilnd: received %s, shutting down", sig)

	cancel()
	k.Shutdown()
	return 0
}
