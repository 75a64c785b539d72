package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aufinal/WoolooBot/internal/command"
	"github.com/Aufinal/WoolooBot/internal/command/music"
	"github.com/Aufinal/WoolooBot/internal/config"
	"github.com/Aufinal/WoolooBot/internal/discord"
	"github.com/Aufinal/WoolooBot/internal/logging"
	"github.com/Aufinal/WoolooBot/internal/storage"
	v "github.com/Aufinal/WoolooBot/internal/version"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		bootLog := logging.New("info", "")
		bootLog.Fatal().Err(err).Msg("configuration error")
	}

	log := logging.New(cfg.LogLevel, cfg.LogFile)
	log.Info().Str("app", v.AppName).Str("version", v.Version).Msg("starting bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("storage error")
	}
	defer store.Close()

	bot := discord.NewBot(cfg, store, log)
	command.Register(
		&music.MusicCommand{Bot: bot},
		command.WithGuildOnly(),
		command.WithCommandLogger(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- bot.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("bot error")
		}
		cancel()
	}

	log.Info().Msg("bot exited cleanly")
}
