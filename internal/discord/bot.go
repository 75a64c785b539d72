// Package discord wires the playback engine to a live Discord session:
// gateway events, slash-command dispatch, per-guild controllers, and the
// voice transport.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/Aufinal/WoolooBot/internal/command"
	"github.com/Aufinal/WoolooBot/internal/config"
	"github.com/Aufinal/WoolooBot/internal/music/player"
	"github.com/Aufinal/WoolooBot/internal/music/resolver"
	"github.com/Aufinal/WoolooBot/internal/music/session"
	"github.com/Aufinal/WoolooBot/internal/storage"
	"github.com/Aufinal/WoolooBot/pkg/workpool"

	botutil "github.com/Aufinal/WoolooBot/internal/bot"
)

// Bot owns the Discord session and the per-guild playback controllers.
type Bot struct {
	dg       *discordgo.Session
	cfg      *config.Config
	store    *storage.Storage
	log      zerolog.Logger
	sessions *session.Registry
	resolver resolver.Resolver
	pool     *workpool.Pool
	reaper   *player.Reaper

	mu          sync.Mutex
	controllers map[string]*player.Controller
}

// NewBot creates the bot with its process-wide collaborators: one resolver,
// one worker pool, one session registry.
func NewBot(cfg *config.Config, store *storage.Storage, log zerolog.Logger) *Bot {
	return &Bot{
		cfg:         cfg,
		store:       store,
		log:         log,
		sessions:    session.NewRegistry(),
		resolver:    resolver.NewYouTube(log),
		pool:        workpool.New(cfg.WorkerPoolSize),
		controllers: make(map[string]*player.Controller),
	}
}

// Run connects to the gateway and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.dg = dg

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onInteractionCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	b.reaper = player.NewReaper(b.cfg.ReaperInterval, b.cfg.MaxIdleTime, b.reaperTargets, b.log)
	b.reaper.Start()
	defer b.reaper.Stop()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, cleaning up")
	b.shutdown()
	return nil
}

func (b *Bot) shutdown() {
	b.mu.Lock()
	controllers := make([]*player.Controller, 0, len(b.controllers))
	for _, c := range b.controllers {
		controllers = append(controllers, c)
	}
	b.mu.Unlock()

	for _, c := range controllers {
		c.Disconnect()
		c.Close()
	}
	b.pool.Close()
}

func (b *Bot) reaperTargets() []player.Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	targets := make([]player.Target, 0, len(b.controllers))
	for _, c := range b.controllers {
		targets = append(targets, c)
	}
	return targets
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	for _, g := range r.Guilds {
		if err := b.registerCommands(g.ID); err != nil {
			b.log.Error().Err(err).Str("guild", g.ID).Msg("command registration failed")
		}
	}
	b.log.Info().Str("user", s.State.User.Username).Int("guilds", len(r.Guilds)).Msg("bot is running")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	b.log.Info().Str("guild", g.ID).Str("name", g.Name).Msg("guild available")
	if err := b.registerCommands(g.ID); err != nil {
		b.log.Error().Err(err).Str("guild", g.ID).Msg("command registration failed")
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.CommandType != discordgo.ChatApplicationCommand {
		return
	}

	cmd, ok := command.Get(data.Name)
	if !ok {
		b.log.Warn().Str("command", data.Name).Msg("unknown command")
		return
	}

	ctx := &command.Context{
		Session: s,
		Event:   i,
		Storage: b.store,
		Log:     b.log,
	}
	if err := cmd.Run(ctx); err != nil {
		b.log.Error().Err(err).Str("command", data.Name).Msg("command failed")
		_ = botutil.RespondEmbedEphemeral(s, i, &discordgo.MessageEmbed{
			Description: fmt.Sprintf("Error running command: %v", err),
		})
	}
}

// registerCommands pushes the wanted slash definitions for one guild in a
// single bulk overwrite.
func (b *Bot) registerCommands(guildID string) error {
	appID := b.dg.State.User.ID
	if appID == "" {
		user, err := b.dg.User("@me")
		if err != nil {
			return err
		}
		appID = user.ID
	}

	var wanted []*discordgo.ApplicationCommand
	for _, cmd := range command.All() {
		if provider, ok := cmd.(command.SlashProvider); ok {
			if def := provider.SlashDefinition(); def != nil {
				wanted = append(wanted, def)
			}
		}
	}

	_, err := b.dg.ApplicationCommandBulkOverwrite(appID, guildID, wanted)
	return err
}
