// Package main provides the bot entry point.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	apidiscord "github.com/ataka/medley/internal/api/discord"
	"github.com/ataka/medley/internal/app/registry"
	"github.com/ataka/medley/internal/app/scheduler"
	"github.com/ataka/medley/internal/app/watchdog"
	"github.com/ataka/medley/internal/infra/config"
	"github.com/ataka/medley/internal/infra/logger"
	"github.com/ataka/medley/internal/infra/voice"
	"github.com/ataka/medley/internal/infra/ytdlp"
)

var (
	app        = kingpin.New("medley", "medley Discord music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/medley.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// check command
	checkCmd = app.Command("check", "Validate config and external tools, then exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		File:   "",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkCmd.FullCommand() {
		if err := runCheck(cfg); err != nil {
			zlog.Error().Msgf("Check failed: %v", err)
			os.Exit(1)
		}
		fmt.Println("Configuration OK")
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures defer
// statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	resolver, err := ytdlp.New(cfg.Resolver)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	// Voice state tracking is required for join targets and listener counts.
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	session.StateEnabled = true

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	defer session.Close()
	zlog.Info().Msgf("Gateway connected: user=%s", session.State.User.Username)

	binder := voice.NewBinder(session, cfg.Playback.FFmpegPath)
	reg := registry.New(binder, resolver, scheduler.Config{
		ResolveTimeout: cfg.ResolveTimeout(),
		FailureBackoff: cfg.FailureBackoff(),
	})
	defer reg.Shutdown()

	handler := apidiscord.NewHandler(session, reg, resolver, cfg.ResolveTimeout())
	if err := handler.RegisterCommands(cfg.Discord.GuildID); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	zlog.Info().Msg("Slash commands registered")

	dog := watchdog.New(reg, cfg.WatchdogInterval())
	dog.Start()
	defer dog.Stop()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	return nil
}

// runCheck verifies the external tools the bot shells out to.
func runCheck(cfg *config.Config) error {
	for _, tool := range []string{cfg.Resolver.YtdlpPath, cfg.Playback.FFmpegPath} {
		path, err := exec.LookPath(tool)
		if err != nil {
			return fmt.Errorf("required tool not found: %s", tool)
		}
		fmt.Printf("  %-10s %s\n", tool, path)
	}
	return nil
}
