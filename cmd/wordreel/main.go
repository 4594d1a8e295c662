package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/wordreel/internal/api"
	"github.com/snarg/wordreel/internal/config"
	"github.com/snarg/wordreel/internal/database"
	"github.com/snarg/wordreel/internal/jobs"
	"github.com/snarg/wordreel/internal/media"
	"github.com/snarg/wordreel/internal/metrics"
	"github.com/snarg/wordreel/internal/reel"
	"github.com/snarg/wordreel/internal/speech"
	"github.com/snarg/wordreel/internal/storage"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var (
		envFile     = flag.String("env-file", "", "path to .env file (default .env)")
		listen      = flag.String("listen", "", "HTTP listen address (overrides HTTP_ADDR)")
		logLevel    = flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
		databaseURL = flag.String("database-url", "", "Postgres URL for job history (overrides DATABASE_URL)")
		videoDir    = flag.String("video-dir", "", "directory for finished videos (overrides VIDEO_DIR)")
		fontPath    = flag.String("font", "", "TTF/OTF font file (overrides FONT_PATH)")
		text        = flag.String("text", "", "render this text once and exit")
		textFile    = flag.String("text-file", "", "render the contents of this file once and exit")
		out         = flag.String("out", "output.mp4", "output file for -text/-text-file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("wordreel", version)
		return
	}

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:     *envFile,
		HTTPAddr:    *listen,
		LogLevel:    *logLevel,
		DatabaseURL: *databaseURL,
		VideoDir:    *videoDir,
		FontPath:    *fontPath,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	oneShot := *text != "" || *textFile != ""

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if oneShot {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger().Level(level)
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
		log.Info().Str("version", version).Msg("wordreel starting")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pipeline
	p := buildPipeline(cfg, log)
	defer p.renderPool.Release()

	if oneShot {
		input := *text
		if *textFile != "" {
			b, err := os.ReadFile(*textFile)
			if err != nil {
				log.Fatal().Err(err).Str("path", *textFile).Msg("failed to read text file")
			}
			input = string(b)
		}
		code := runOnce(ctx, p.assembler, input, *out, cfg.JobTimeout, log)
		p.renderPool.Release()
		stop()
		os.Exit(code)
	}

	if p.encoderErr != nil {
		log.Error().Err(p.encoderErr).Msg("ffmpeg not usable; video jobs will fail until it is installed")
	}

	// Video storage
	storageLog := log.With().Str("component", "storage").Logger()
	store, services, err := storage.New(storage.Options{
		S3:        cfg.S3,
		VideoDir:  cfg.VideoDir,
		Retention: cfg.VideoRetention,
		MaxGB:     cfg.VideoMaxGB,
	}, storageLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize video storage")
	}
	log.Info().Str("type", store.Type()).Str("dir", cfg.VideoDir).Msg("video storage ready")

	// Database (optional)
	var (
		db       *database.DB
		recorder jobs.Recorder
		history  api.JobHistory
		pinger   api.Pinger
		pgPool   *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("database migration failed")
		}
		recorder, history, pinger, pgPool = db, db, db, db.Pool
		services = append(services, database.NewMaintenance(db, cfg.HistoryRetention, log))
	} else {
		log.Info().Msg("DATABASE_URL not set; job history is kept in memory only")
	}

	for _, s := range services {
		s.Start()
	}

	// Job pool
	pool := jobs.NewPool(jobs.PoolOptions{
		Assembler:    p.assembler,
		Store:        store,
		Recorder:     recorder,
		TTSBackend:   p.backend,
		TempDir:      cfg.TempDir,
		Workers:      cfg.JobWorkers,
		QueueSize:    cfg.JobQueueSize,
		Timeout:      cfg.JobTimeout,
		Retention:    cfg.JobRetention,
		MaxTextChars: cfg.MaxTextChars,
		Log:          log,
	})
	pool.Start()

	prometheus.MustRegister(metrics.NewCollector(pgPool, pool))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Jobs:        pool,
		Store:       store,
		History:     history,
		DB:          pinger,
		EncoderErr:  p.encoderErr,
		TTSBackend:  p.backend,
		StorageType: store.Type(),
		Version:     version,
		StartTime:   startTime,
		Log:         httpLog,
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown: stop taking requests, then let queued jobs finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	drainTimeout := cfg.JobTimeout
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Minute
	}
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	pool.Stop(drainCtx)

	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}

	log.Info().Msg("wordreel stopped")
}

type pipeline struct {
	assembler  *reel.Assembler
	renderPool *ants.Pool
	backend    string
	encoderErr error
}

// buildPipeline wires font, renderer, speech backend and encoder into an
// assembler. Configuration errors are fatal.
func buildPipeline(cfg *config.Config, log zerolog.Logger) pipeline {
	font, err := reel.LoadFont(cfg.FontPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.FontPath).Msg("failed to load font")
	}
	renderer, err := reel.NewRenderer(font, cfg.FontSize, image.Pt(cfg.VideoWidth, cfg.VideoHeight), cfg.TextRGB())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create renderer")
	}

	workers := cfg.RenderWorkers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	renderPool, err := ants.NewPool(workers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create render pool")
	}

	var backend speech.Backend
	switch cfg.TTSProvider {
	case "elevenlabs":
		backend = speech.NewElevenLabsClient(speech.ElevenLabsOptions{
			Endpoint:        cfg.ElevenLabsURL,
			APIKey:          cfg.ElevenLabsAPIKey,
			VoiceID:         cfg.ElevenLabsVoiceID,
			Model:           cfg.ElevenLabsModel,
			Stability:       cfg.VoiceStability,
			SimilarityBoost: cfg.VoiceSimilarity,
			Timeout:         cfg.TTSTimeout,
		})
	default:
		backend = speech.NewGoogleTTS(cfg.GoogleTTSURL, cfg.TTSLanguage, cfg.TTSTimeout)
	}

	speechLog := log.With().Str("component", "speech").Logger()
	prober := media.NewProber(cfg.FFprobePath, cfg.ProbeTimeout)
	synth := speech.NewSynthesizer(backend, prober, cfg.TempDir, speechLog)

	encoder := media.NewFFmpegEncoder(media.EncoderOptions{
		FFmpegPath:   cfg.FFmpegPath,
		VideoCodec:   cfg.VideoCodec,
		AudioCodec:   cfg.AudioCodec,
		AudioBitrate: cfg.AudioBitrate,
		Preset:       cfg.X264Preset,
		TempDir:      cfg.TempDir,
		Log:          log.With().Str("component", "encoder").Logger(),
	})
	encoderErr := media.CheckBinary(cfg.FFmpegPath)
	if err := media.CheckBinary(cfg.FFprobePath); err != nil && encoderErr == nil {
		encoderErr = err
	}

	log.Info().
		Str("tts", backend.Name()).
		Int("render_workers", workers).
		Str("size", fmt.Sprintf("%dx%d", cfg.VideoWidth, cfg.VideoHeight)).
		Int("fps", cfg.FrameRate).
		Msg("pipeline ready")

	return pipeline{
		assembler:  reel.NewAssembler(cfg.Settings(), synth, renderer, encoder, renderPool, log.With().Str("component", "reel").Logger()),
		renderPool: renderPool,
		backend:    backend.Name(),
		encoderErr: encoderErr,
	}
}

// runOnce renders text to out and returns the process exit code.
func runOnce(ctx context.Context, asm *reel.Assembler, text, out string, timeout time.Duration, log zerolog.Logger) int {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := asm.Assemble(ctx, text, out)
	if err != nil {
		log.Error().Err(err).Str("kind", reel.KindOf(err).String()).Msg("video generation failed")
		return 1
	}
	log.Info().
		Str("path", res.Path).
		Int("words", res.FrameCount).
		Float64("duration", res.Duration).
		Dur("synthesis", res.Timings.Synthesis).
		Dur("render", res.Timings.Render).
		Dur("encode", res.Timings.Encode).
		Msg("video written")
	return 0
}
