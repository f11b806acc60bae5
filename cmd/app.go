package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"watchparty/fanout"
	"watchparty/identity"
	httpServer "watchparty/server/http"
	websocketServer "watchparty/server/websocket"
	"watchparty/service"
	store "watchparty/storage/memory"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		identityDB    = fs.StringP("identity-db", "d", "", "path to identity sqlite database, empty for in-memory")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	var provider identity.Provider
	if *identityDB != "" {
		sqlProvider, err := identity.NewSQLProvider(*identityDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open identity database")
		}
		defer func() {
			_ = sqlProvider.Close()
		}()
		provider = sqlProvider
	} else {
		provider = identity.NewMemProvider()
	}

	memStore := store.NewMemStore()
	engine := service.NewEngine(service.Config{
		Store:    memStore,
		Identity: provider,
		Fanout:   fanout.NewFanout(&logger),
		Logger:   &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Stats:      memStore,
		ListenAddr: *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Engine:     engine,
		ListenAddr: *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
