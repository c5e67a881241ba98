/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Command lighthoused loads a YAML config, wires up logging/tracing/
// persistence, and runs the broker's TCP and (optionally) websocket
// listeners until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yunqi/lighthouse-core/config"
	"github.com/yunqi/lighthouse-core/internal/persistence"
	"github.com/yunqi/lighthouse-core/internal/session"
	"github.com/yunqi/lighthouse-core/internal/transport"
	"github.com/yunqi/lighthouse-core/internal/xlog"
	"github.com/yunqi/lighthouse-core/internal/xtrace"
)

func main() {
	configPath := flag.String("config", "lighthoused.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	if err := xlog.Init(xlog.Options{
		Level:       cfg.Log.Level,
		Filename:    cfg.Log.Filename,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
		Development: cfg.Log.Development,
	}); err != nil {
		panic(err)
	}
	log := xlog.LoggerModule("main")

	shutdownTracing, err := xtrace.StartAgent(xtrace.Options{
		Exporter:    xtrace.Exporter(cfg.Trace.Exporter),
		Endpoint:    cfg.Trace.Endpoint,
		ServiceName: "lighthoused",
		SampleRatio: cfg.Trace.SampleRatio,
	})
	if err != nil {
		log.Fatal("start tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	hooks := buildHooks(cfg)

	srv, err := transport.New(transport.Options{
		TCPListen:       cfg.Mqtt.TCPListen(),
		WebsocketListen: cfg.Mqtt.WebsocketListen(),
		NodeID:          cfg.Mqtt.NodeID,
		MaxQoS:          cfg.Mqtt.MaximumQoS,
		InflightMaximum: cfg.Mqtt.MaxInflight,
		MaxPacketSize:   cfg.Mqtt.MaxPacketSize,
		Limits: session.Limits{
			MaxInflightBytes:       int64(cfg.Mqtt.MaxInflightBytes),
			MaxQueuedMessages:      cfg.Mqtt.MaxQueueMessages,
			MaxQueuedBytes:         int64(cfg.Mqtt.MaxQueuedBytes),
			QueueQoS0Messages:      cfg.Mqtt.QueueQos0Msg,
			AllowDuplicateMessages: cfg.Mqtt.AllowDuplicateMessages,
			RetainAvailable:        cfg.Mqtt.RetainAvailable,
		},
		Hooks: hooks,
	})
	if err != nil {
		log.Fatal("build transport server", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.ServeTCP() }()
	if cfg.Mqtt.WebsocketListen() != "" {
		go func() { errCh <- srv.ServeWebsocket() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("listener stopped", zap.Error(err))
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error("stop transport server", zap.Error(err))
	}
}

// buildHooks selects the persistence.Hooks backend named by
// cfg.Persistence.BaseMessage.Type.
func buildHooks(cfg *config.Config) persistence.Hooks {
	if cfg.Persistence.BaseMessage.Type != "redis" {
		return persistence.NoopHooks{}
	}
	return persistence.NewRedisHooks(
		cfg.Persistence.Redis.Addr,
		cfg.Persistence.Redis.Password,
		cfg.Persistence.Redis.DB,
	)
}
