// Command transcript-viewer shows relay transcript deltas live in a browser.
// It consumes the partial and final topics from Kafka and fans the events
// out over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"live-speech-relay/internal/models"
	"live-speech-relay/internal/observability/logging"
)

//go:embed static/*
var staticFiles embed.FS

const (
	writeTimeout = 5 * time.Second
	lookback     = time.Hour
)

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "transcript.session.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "transcript.session.final", "Final transcript topic")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})
	logger := logging.WithComponent("transcript-viewer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub(logger)
	server := &http.Server{
		Addr:              ":" + *port,
		Handler:           newRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.run(gctx)
		return nil
	})
	for _, topic := range []string{*topicPartial, *topicFinal} {
		topic := topic
		g.Go(func() error {
			return consume(gctx, hub, strings.Split(*brokers, ","), topic, logger)
		})
	}
	g.Go(func() error {
		logger.Info().
			Str("url", "http://localhost:"+*port).
			Str("brokers", *brokers).
			Msg("Transcript viewer listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Transcript viewer failed")
		os.Exit(1)
	}
}

func newRouter(hub *Hub) http.Handler {
	r := chi.NewRouter()
	staticFS, _ := fs.Sub(staticFiles, "static")
	r.Get("/ws", hub.serveWS)
	r.Handle("/*", http.FileServer(http.FS(staticFS)))
	return r
}

// consume reads one topic from the last hour onward and broadcasts every
// event. A partition reader without a consumer group keeps this usable
// through a port-forward.
func consume(ctx context.Context, hub *Hub, brokers []string, topic string, logger zerolog.Logger) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-lookback)); err != nil {
		logger.Warn().Err(err).Str("topic", topic).Msg("Could not seek, reading from the committed offset")
	}
	logger.Info().Str("topic", topic).Msg("Consuming transcripts")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		var ev models.PublishEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Warn().Err(err).Str("topic", topic).Msg("Skipping malformed event")
			continue
		}
		hub.Broadcast(ev)
	}
}
