package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/actorctl/internal/actor"
	"github.com/danmuck/actorctl/internal/bridge"
	"github.com/danmuck/actorctl/internal/capability"
	"github.com/danmuck/actorctl/internal/chain"
	"github.com/danmuck/actorctl/internal/manifest"
	"github.com/danmuck/actorctl/internal/observability"
	"github.com/danmuck/actorctl/internal/wasm"
)

func main() {
	manifestPath := flag.String("manifest", "actor.toml", "path to the actor manifest")
	flag.Parse()

	logger := observability.InitLogger("actorctl")

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *manifestPath).Msg("failed to load manifest")
	}
	log.Info().Str("path", *manifestPath).Str("actor", m.Name).Msg("loaded manifest")

	component, err := m.ComponentBytes()
	if err != nil {
		log.Fatal().Err(err).Str("component", m.ComponentPath).Msg("failed to read component")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter := chain.New(chain.DefaultCapacity, logger)
	deliverer := bridge.NewDeliverer(logger)
	caps := capability.Resolve(m, &capability.HostContext{
		Chain:   emitter,
		Deliver: deliverer,
		Logger:  logger,
	})

	host, err := wasm.NewHost(ctx, wasm.Config{
		Component:    component,
		Capabilities: caps,
		Logger:       logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load component")
	}
	defer host.Close(context.Background())

	runtime, err := actor.New(ctx, host, logger, actor.Options{Name: m.Name})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize actor")
	}

	runtimeDone := make(chan error, 1)
	go func() {
		runtimeDone <- runtime.Run(ctx)
	}()
	log.Info().Str("actor", m.Name).Bool("http", host.SupportsHTTP()).Msg("actor started")

	if m.HTTPPort != nil {
		server := bridge.New(bridge.Config{
			ActorName:   m.Name,
			Mailbox:     runtime,
			Component:   host,
			Chain:       emitter,
			Logger:      logger,
			CorsOrigins: m.CorsOrigins,
		})
		if err := server.Serve(ctx, fmt.Sprintf(":%d", *m.HTTPPort)); err != nil {
			log.Error().Err(err).Msg("bridge stopped with error")
		}
	} else {
		<-ctx.Done()
	}

	stop()
	if err := <-runtimeDone; err != nil {
		log.Error().Err(err).Msg("actor stopped with error")
		os.Exit(1)
	}
	log.Info().Str("actor", m.Name).Msg("actor stopped")
}
