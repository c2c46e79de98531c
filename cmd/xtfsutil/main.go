// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	_ "github.com/cubefs/cubefs/blobstore/util/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtreemfs/xtreemfs-sub010/client"
	"github.com/xtreemfs/xtreemfs-sub010/metrics"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

// Config of the command line client
type Config struct {
	client.Config

	// MetricsAddr serves /metrics and the log level handler when set.
	MetricsAddr string    `json:"metrics_addr"`
	LogLevel    log.Level `json:"log_level"`
}

const usage = `usage: xtfsutil [-f config.json] <command> [args]

commands:
  stat <path>
  ls <path>
  cat <path>
  put <local file> <path>
  rm <path>
  mv <src> <dst>
  mkdir <path>
  rmdir <path>
  truncate <path> <size>
  getxattr <path> <name>
  setxattr <path> <name> <value>
  rmxattr <path> <name>
`

func main() {
	config.Init("f", "", "xtfsutil.json")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}
	log.SetOutputLevel(cfg.LogLevel)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr)
	}

	cli, err := client.New(&cfg.Config)
	if err != nil {
		log.Fatalf("new client failed: %s", errors.Detail(err))
	}
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-ch
		cancel()
	}()

	span, ctx := trace.StartSpanFromContextWithTraceID(ctx, "xtfsutil", util.GenTraceID())
	cmd := &command{vol: cli.OpenVolume(cfg.VolumeName), out: os.Stdout}
	if err = cmd.run(ctx, args[0], args[1:]); err != nil {
		span.Errorf("%s failed: %s", args[0], errors.Detail(err))
		fmt.Fprintf(os.Stderr, "xtfsutil %s: %s\n", args[0], err)
		cli.Close()
		os.Exit(1)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	mux.Handle(logLevelPath, logLevelHandler)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server stopped: %s", err)
		}
	}()
}
