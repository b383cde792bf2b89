package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/voxpost/internal/ai"
	"github.com/voxpost/internal/api"
	"github.com/voxpost/internal/blob"
	"github.com/voxpost/internal/config"
	"github.com/voxpost/internal/database"
	"github.com/voxpost/internal/letters"
	"github.com/voxpost/internal/messenger"
	"github.com/voxpost/internal/messenger/telegram"
	"github.com/voxpost/internal/messenger/whatsapp"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/post"
	"github.com/voxpost/internal/storage"
)

// APICommand returns the CLI command for starting the webhook server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the VoxPost webhook server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the configured port",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if port := c.Int("port"); port != 0 {
		cfg.Server.Port = port
	}
	setupLogging(cfg)

	db, err := database.Open(c.Context, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	blobStore, err := blob.NewDiskStore(cfg.Blob.Root)
	if err != nil {
		return err
	}
	factory := storage.NewPostgresFactory(db, blobStore, blobStore)

	writer, err := ai.NewOpenAIWriter(cfg.OpenAI)
	if err != nil {
		return err
	}
	transcriber := ai.NewOpenAITranscriber(cfg.OpenAI)
	dispatcher := post.NewClient(cfg.Post)
	service := letters.NewService(writer, transcriber, dispatcher, cfg.Payments)

	messengers := map[models.Platform]messenger.Messenger{}
	if cfg.Telegram.Token != "" {
		messengers[models.PlatformTelegram] = telegram.New(cfg.Telegram)
	}
	if cfg.Whatsapp.Token != "" {
		messengers[models.PlatformWhatsapp] = whatsapp.New(cfg.Whatsapp)
	}

	log.Info().Int("port", cfg.Server.Port).Int("platforms", len(messengers)).
		Msg("starting VoxPost webhook server")
	server := api.NewServer(api.Options{
		Host:                cfg.Server.Host,
		Port:                cfg.Server.Port,
		Factory:             factory,
		Service:             service,
		Messengers:          messengers,
		Payments:            cfg.Payments,
		WhatsappVerifyToken: cfg.Whatsapp.VerifyToken,
		TelegramSecret:      cfg.Telegram.WebhookSecret,
	})
	return server.Start()
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
