// Command spotify-presence shows the track playing on Spotify as Discord rich presence.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/justestif/spotify-presence/internal/app"
	"github.com/justestif/spotify-presence/internal/auth"
	"github.com/justestif/spotify-presence/internal/config"
	"github.com/justestif/spotify-presence/internal/db"
	"github.com/justestif/spotify-presence/internal/discord"
	"github.com/justestif/spotify-presence/internal/logging"
	"github.com/justestif/spotify-presence/internal/spotify"
	presencesync "github.com/justestif/spotify-presence/internal/sync"
	"github.com/justestif/spotify-presence/internal/web"
	webfs "github.com/justestif/spotify-presence/web"
)

var version = "dev"

type options struct {
	configPath  string
	logFile     string
	logout      bool
	showVersion bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fset := flag.NewFlagSet("spotify-presence", flag.ContinueOnError)
	fset.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default ~/.config/spotify-presence/config.toml)")
	fset.StringVar(&opts.logFile, "log-file", "", "append logs to this file")
	fset.BoolVar(&opts.logout, "logout", false, "forget the stored Spotify refresh token and exit")
	fset.BoolVarP(&opts.showVersion, "version", "v", false, "print version and exit")
	if err := fset.Parse(args); err != nil {
		return options{}, err
	}
	if fset.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fset.Args())
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Println("spotify-presence", version)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logFile := cfg.LogFile
	if opts.logFile != "" {
		logFile = opts.logFile
	}
	logger, logCloser, err := logging.Setup(logFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Create sub-filesystem for the callback pages
	templatesFS, err := fs.Sub(webfs.TemplatesFS, "templates")
	if err != nil {
		return fmt.Errorf("creating templates filesystem: %w", err)
	}
	templates, err := web.NewTemplates(templatesFS)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	oauthCfg := auth.NewOAuthConfig(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.RedirectURI)
	flow := auth.NewFlow(auth.FlowConfig{
		OAuth:        oauthCfg,
		ListenAddr:   cfg.ListenAddr,
		CallbackPath: cfg.CallbackPath,
		Templates:    templates,
		Logger:       logger.With("component", "callback"),
	})
	manager := auth.NewManager(oauthCfg, store, flow, logger.With("component", "auth"))
	if err := manager.Load(ctx); err != nil {
		return err
	}

	if opts.logout {
		if err := manager.Logout(ctx); err != nil {
			return fmt.Errorf("logging out: %w", err)
		}
		fmt.Println("Stored Spotify credentials removed.")
		return nil
	}

	poller := spotify.NewPoller(manager, logger.With("component", "spotify"))
	presence := discord.New(cfg.DiscordClientID, logger.With("component", "discord"))
	syncer := presencesync.New(presence, logger.With("component", "sync"))

	runner := app.NewRunner(manager, poller, syncer, presence, logger,
		app.WithInterval(cfg.PollInterval),
		app.WithCooldown(cfg.ErrorCooldown),
	)

	logger.Info("spotify-presence started", "version", version, "config", cfg.Path)
	return runner.Run(ctx)
}

// openStore picks Postgres when a database URL is configured and the
// per-user credentials file otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.CredentialStore, func(), error) {
	if cfg.DatabaseURL == "" {
		cache, err := auth.DefaultTokenCache()
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("using credentials file", "path", cache.Path())
		return cache, func() {}, nil
	}

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	logger.Debug("using database credential store")
	return database.Credentials(cfg.SpotifyClientID), database.Close, nil
}
