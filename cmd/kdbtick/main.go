// Command kdbtick forwards newline-delimited JSON state events from
// stdin to a kdb+ tickerplant, exposing health and metrics endpoints
// while it runs.
package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/peteclarkez/homeassistant-kdbtick/tick"
)

var (
	configPath = kingpin.Flag("config", "Path to TOML config file").
			Default("kdbtick.toml").
			String()
	memProfile = kingpin.Flag("memprofile", "Enable memory profiling").
			Bool()
)

func initLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", "kdbtick").Logger()
}

func main() {
	kingpin.Parse()

	if *memProfile {
		defer profile.Start(profile.MemProfile).Stop()
	}

	log := initLogger()

	cfg, err := tick.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	tick.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("kdbtick exited")
	}
	log.Info().Msg("kdbtick stopped")
}

func run(ctx context.Context, cfg tick.Config, log zerolog.Logger) error {
	client := tick.NewClient(cfg, log)
	defer client.Close()
	if !client.Connect() {
		log.Warn().Msg("tickerplant unavailable at startup, will keep retrying")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return serveHTTP(ctx, cfg.ListenAddr, log) })
	group.Go(func() error {
		// stdin ending is a normal shutdown; take the http server with us
		defer cancel()
		return forward(ctx, cfg, client, log)
	})
	return group.Wait()
}

// serveHTTP exposes liveness and prometheus endpoints until ctx ends.
func serveHTTP(ctx context.Context, addr string, log zerolog.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "kdbtick"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: addr, Handler: r}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("http listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// forward reads one JSON event per line from stdin and pushes each past
// the entity filter to the tickerplant. A failed send is retried after
// the configured interval rather than dropped.
func forward(ctx context.Context, cfg tick.Config, client *tick.Client, log zerolog.Logger) error {
	filter := tick.NewFilter(cfg.IncludeEntities, cfg.ExcludeEntities)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := tick.ParseEvent(line)
		if err != nil {
			log.Warn().Err(err).Msg("skipping bad event line")
			continue
		}
		if !filter.Allow(event.EntityID) {
			tick.RecordFiltered()
			continue
		}
		payload, err := event.Payload()
		if err != nil {
			log.Warn().Err(err).Str("entity", event.EntityID).Msg("skipping unserializable event")
			continue
		}
		for !client.Send(cfg.Func, cfg.Name, payload) {
			log.Warn().
				Str("entity", event.EntityID).
				Dur("retry_in", cfg.RetryInterval()).
				Msg("send failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.RetryInterval()):
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	log.Info().Msg("stdin closed, shutting down")
	return nil
}
