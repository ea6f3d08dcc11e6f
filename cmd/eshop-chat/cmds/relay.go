package cmds

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/eshop-chat/pkg/redisstream"
	"github.com/go-go-golems/eshop-chat/pkg/relay"
	"github.com/go-go-golems/eshop-chat/pkg/updates"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type RelayCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*RelayCommand)(nil)

type RelaySettings struct {
	Addr    string `glazed:"addr"`
	Verbose bool   `glazed:"verbose"`
}

func NewRelayCommand() (*RelayCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"relay",
		cmds.WithShort("Serve conversation updates from Redis Streams over a websocket"),
		cmds.WithFlags(
			fields.New("addr", fields.TypeString, fields.WithHelp("Listen address"), fields.WithDefault(":8090")),
			fields.New("verbose", fields.TypeBool, fields.WithHelp("Verbose update router logging"), fields.WithDefault(false)),
		),
		cmds.WithSections(sections...),
	)
	return &RelayCommand{CommandDescription: desc}, nil
}

func (c *RelayCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &RelaySettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init relay settings")
	}
	_, redis, err := decodeBackend(parsed)
	if err != nil {
		return err
	}
	if !redis.Enabled {
		return errors.New("relay needs --redis-enabled")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := redisstream.Open(ctx, redis.Private("relay"), s.Verbose)
	if err != nil {
		return errors.Wrap(err, "create update bus")
	}
	defer func() { _ = bus.Close() }()

	pool := relay.NewPool()
	defer pool.CloseAll()
	bus.Handle("relay", updates.HandlerFunc(pool.Publish))

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.Handle("/ws", relay.NewHandler(pool, upgrader))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: s.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return bus.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		log.Info().Str("addr", s.Addr).Msg("relaying conversation updates on /ws")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
