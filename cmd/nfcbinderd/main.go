// Command nfcbinderd connects to an NFC HAL service, powers the controller
// on and keeps RF discovery running until it is told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/librescoot/nfc-binder/adapter"
	"github.com/librescoot/nfc-binder/internal/config"
	"github.com/librescoot/nfc-binder/internal/logging"
	"github.com/librescoot/nfc-binder/internal/metrics"
	"github.com/librescoot/nfc-binder/ipc"
	"github.com/librescoot/nfc-binder/nci"
	"github.com/librescoot/nfc-binder/transport"
)

const (
	loopDepth       = 64
	shutdownTimeout = 5 * time.Second
)

var (
	errHALDied = errors.New("HAL service died")
	errPowerOn = errors.New("failed to request power on")
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nfcbinderd: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log).With().Str("instance", cfg.Service.Instance).Logger()
	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.RegisterMetrics()
	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen, log)
	}

	loop := ipc.NewLoop(loopDepth)
	conn, err := ipc.Dial(cfg.Service.Socket, loop, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	binding, err := transport.New(cfg.Service.Backend, conn, transport.WithLogger(log))
	if err != nil {
		return err
	}
	engine := nci.NewEngine(log)
	ad := adapter.New(binding, engine,
		adapter.WithLogger(log),
		adapter.WithHexdump(cfg.Log.Hexdump),
	)
	engine.Attach(ad, ad)

	d := &daemon{log: log, loop: loop, adapter: ad, engine: engine, binding: binding}
	loop.Post(d.start)
	conn.Start()
	log.Info().Str("socket", cfg.Service.Socket).Str("backend", binding.Name()).Msg("Connected")

	go logTags(loop.Done(), engine.Tags(), log)
	go func() {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			loop.Post(d.shutdown)
			time.AfterFunc(shutdownTimeout, func() {
				log.Warn().Msg("Power off timed out")
				loop.Stop()
			})
		case <-loop.Done():
		}
	}()

	if err := loop.Run(context.Background()); err != nil {
		return err
	}
	return d.err
}

// daemon owns the adapter on the loop goroutine.
type daemon struct {
	log     zerolog.Logger
	loop    *ipc.Loop
	adapter *adapter.Adapter
	engine  *nci.Engine
	binding *transport.Binding

	stopping bool
	finished bool
	err      error
}

func (d *daemon) start() {
	d.adapter.AddDeathHandler(func() {
		d.err = errHALDied
		d.finish()
	})
	d.adapter.AddPowerHandler(func(on, requested bool) {
		switch {
		case d.stopping && !on:
			d.finish()
		case requested && !on:
			d.err = errPowerOn
			d.finish()
		}
	})
	if !d.adapter.SubmitPowerRequest(true) && !d.adapter.Powered() {
		d.err = errPowerOn
		d.finish()
	}
}

func (d *daemon) shutdown() {
	d.stopping = true
	if !d.adapter.Powered() {
		d.finish()
		return
	}
	if !d.adapter.SubmitPowerRequest(false) {
		d.finish()
	}
}

func (d *daemon) finish() {
	if d.finished {
		return
	}
	d.finished = true
	d.engine.Stop()
	d.adapter.Release()
	d.binding.Release()
	d.loop.Stop()
}

func logTags(done <-chan struct{}, tags <-chan nci.TagEvent, log zerolog.Logger) {
	for {
		select {
		case <-done:
			return
		case ev := <-tags:
			log.Info().
				Stringer("event", ev.Type).
				Stringer("protocol", ev.Tag.RFProtocol).
				Hex("id", ev.Tag.ID).
				Msg("Tag")
		}
	}
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}
