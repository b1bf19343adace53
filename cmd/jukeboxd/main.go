// Package main is the entry point for the jukeboxd daemon.
// jukeboxd is a headless audio playback daemon that can turn the playing
// track into an endless, beat-aligned remix. Clients drive it over a Unix
// socket or a WebSocket bridge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/austinkregel/local-media/jukeboxd/internal/analysis"
	"github.com/austinkregel/local-media/jukeboxd/internal/audio"
	"github.com/austinkregel/local-media/jukeboxd/internal/config"
	"github.com/austinkregel/local-media/jukeboxd/internal/ipc"
	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/media"
	"github.com/austinkregel/local-media/jukeboxd/internal/notify"
	"github.com/austinkregel/local-media/jukeboxd/internal/queue"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	appName = "jukeboxd"

	// prefetchAhead is how many upcoming queue items get their analysis
	// warmed on each track change.
	prefetchAhead   = 3
	prefetchWorkers = 2
)

// Options holds the command line options
type Options struct {
	SocketPath string
	ConfigDir  string
	WebAddr    string
	Verbose    bool
	LogJSON    bool

	// Jukebox overrides behavior.jukeboxOnStart when set on the command line.
	Jukebox    bool
	JukeboxSet bool
}

func main() {
	opts := parseFlags()
	setupLogging(opts)

	log.Info().Str("version", Version).Msg("jukeboxd starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		log.Fatal().Err(err).Msg("fatal error")
	}
}

func parseFlags() *Options {
	opts := &Options{}
	var showVersion bool

	flag.StringVarP(&opts.SocketPath, "socket", "s", "", "IPC socket path (default: $XDG_RUNTIME_DIR/jukeboxd.sock)")
	flag.StringVarP(&opts.ConfigDir, "config", "c", "", "configuration directory (default: $XDG_CONFIG_HOME/jukeboxd)")
	flag.StringVar(&opts.WebAddr, "ws-addr", "", "WebSocket bridge listen address, e.g. 127.0.0.1:8765 (overrides web.listenAddr)")
	flag.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	flag.BoolVar(&opts.LogJSON, "log-json", false, "log JSON lines instead of console output")
	flag.BoolVar(&opts.Jukebox, "jukebox", false, "enable the jukebox at startup")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(appName, Version)
		os.Exit(0)
	}
	opts.JukeboxSet = flag.CommandLine.Changed("jukebox")

	if opts.ConfigDir == "" {
		opts.ConfigDir = filepath.Join(xdg.ConfigHome, appName)
	}
	if opts.SocketPath == "" {
		opts.SocketPath = defaultSocketPath()
	}
	return opts
}

func defaultSocketPath() string {
	path, err := xdg.RuntimeFile(appName + ".sock")
	if err != nil {
		return fmt.Sprintf("/tmp/%s-%d.sock", appName, os.Getuid())
	}
	return path
}

func setupLogging(opts *Options) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if !opts.LogJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}

func run(ctx context.Context, opts *Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	configMgr := config.NewManager(opts.ConfigDir)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	dataDir := configMgr.DataDir()
	log.Info().Str("config", configMgr.GetPath()).Str("data", dataDir).Msg("configuration loaded")

	// Media session (platform-specific); not fatal when unavailable.
	mediaSession, err := media.NewSession()
	if err != nil {
		log.Warn().Err(err).Msg("continuing without OS media integration")
		mediaSession = media.NewNoOpSession()
	}
	defer mediaSession.Close()

	player, err := audio.NewPlayer(mediaSession, audio.Options{
		SampleRate:   cfg.Audio.SampleRate,
		BufferMs:     cfg.Audio.BufferSizeMs,
		TickInterval: time.Duration(cfg.Audio.TickMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio player: %w", err)
	}
	defer player.Close()
	if err := player.SetVolume(cfg.Audio.DefaultVolume); err != nil {
		log.Warn().Err(err).Float64("volume", cfg.Audio.DefaultVolume).Msg("ignoring invalid default volume")
	}
	mediaSession.SetCommandHandler(player)

	queueMgr := queue.NewManager()
	var queueStore *queue.Store
	if cfg.Behavior.RememberQueue {
		queueStore = queue.NewStore(dataDir, queueMgr)
		if err := queueStore.Load(); err != nil {
			log.Warn().Err(err).Msg("failed to load saved queue")
		} else if idx, size := queueMgr.Position(); size > 0 {
			log.Info().Int("items", size).Int("index", idx).Msg("loaded saved queue")
		}
		queueMgr.SetOnChange(func() {
			if err := queueStore.Save(); err != nil {
				log.Warn().Err(err).Msg("failed to save queue")
			}
		})
	}

	provider, prefetcher := buildAnalysis(cfg.Analysis, dataDir)

	notifier := notify.NewDesktop(notify.DefaultTitle)
	defer notifier.Wait()

	enabled := cfg.Behavior.JukeboxOnStart
	if opts.JukeboxSet {
		enabled = opts.Jukebox
	}
	orch := jukebox.New(jukebox.Config{
		Host:     player,
		Provider: provider,
		Settings: configMgr,
		Notifier: notifier,
		Enabled:  enabled,
	})

	server := ipc.NewServer(opts.SocketPath, configMgr, player, queueMgr, orch)

	services := []func(context.Context){
		func(ctx context.Context) {
			if err := orch.Run(ctx); err != nil {
				log.Error().Err(err).Msg("jukebox stopped")
			}
		},
		func(ctx context.Context) {
			watchConfig(ctx, configMgr, orch, cfg)
		},
	}

	if prefetcher != nil {
		prefetcher.Start(ctx)
		warm := func() { prefetcher.Enqueue(upcomingTracks(queueMgr, prefetchAhead)...) }
		unsub := player.SubscribeTrackChange(func(jukebox.Track) { warm() })
		defer unsub()
		warm()
	}

	webAddr := cfg.Web.ListenAddr
	if opts.WebAddr != "" {
		webAddr = opts.WebAddr
	}
	if webAddr != "" {
		services = append(services, func(ctx context.Context) {
			if err := server.ServeWeb(ctx, webAddr); err != nil {
				log.Error().Err(err).Msg("websocket bridge stopped")
			}
		})
	}

	serveErr := serve(ctx, func(ctx context.Context) error {
		if cfg.Behavior.ResumeOnStart {
			server.ResumeQueue(ctx)
		}
		return server.Start(ctx)
	}, services...)

	if queueStore != nil {
		if err := queueStore.Save(); err != nil {
			log.Warn().Err(err).Msg("failed to save queue on shutdown")
		}
	}
	if serveErr != nil {
		return fmt.Errorf("IPC server error: %w", serveErr)
	}
	return nil
}

// serve runs services alongside the IPC server. Once the server returns,
// on shutdown or because it could not start, the services are cancelled
// and waited for.
func serve(ctx context.Context, server func(context.Context) error, services ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc(ctx)
		}()
	}

	err := server(ctx)
	cancel()
	wg.Wait()
	return err
}

// buildAnalysis chains the sidecar reader with the cached analysis service
// when one is configured.
func buildAnalysis(cfg config.AnalysisConfig, dataDir string) (*analysis.Chain, *analysis.Prefetcher) {
	providers := []jukebox.AnalysisProvider{analysis.NewSidecar(cfg.SidecarSuffix)}
	if cfg.ServiceURL == "" {
		return analysis.NewChain(providers...), nil
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	client := analysis.NewClient(cfg.ServiceURL, cfg.Token, timeout)

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = dataDir
	}
	cache, err := analysis.NewCache(cacheDir, analysis.DefaultCacheEntries, client)
	if err != nil {
		log.Warn().Err(err).Msg("analysis cache unavailable, fetching uncached")
		return analysis.NewChain(append(providers, client)...), nil
	}
	log.Info().Str("service", cfg.ServiceURL).Int("cached", cache.Len()).Msg("analysis service configured")

	return analysis.NewChain(append(providers, cache)...), analysis.NewPrefetcher(cache, prefetchWorkers, timeout)
}

func upcomingTracks(q *queue.Manager, n int) []jukebox.Track {
	items := q.Upcoming(n)
	tracks := make([]jukebox.Track, len(items))
	for i, item := range items {
		tracks[i] = item.Track()
	}
	return tracks
}

// watchConfig applies jukebox settings edited on disk while running.
func watchConfig(ctx context.Context, configMgr *config.Manager, orch *jukebox.Orchestrator, initial *config.Config) {
	current := initial.Jukebox
	err := configMgr.Watch(ctx, func(cfg *config.Config) {
		if cfg.Jukebox == nil || (current != nil && *cfg.Jukebox == *current) {
			return
		}
		current = cfg.Jukebox
		if err := orch.ApplySettings(*cfg.Jukebox); err != nil {
			log.Error().Err(err).Msg("failed to apply jukebox settings")
			return
		}
		log.Info().Msg("applied jukebox settings from config file")
	})
	if err != nil {
		log.Error().Err(err).Msg("config watcher stopped")
	}
}
