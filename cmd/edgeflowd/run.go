package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/edgeflow"
	audithook "github.com/xraph/edgeflow/audit_hook"
	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/engine"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ingress"
	"github.com/xraph/edgeflow/processor"
	"github.com/xraph/edgeflow/stream"
)

// sampleEvent is the event type every ingress message maps to.
const sampleEvent event.Type = "SampleEvent"

const tapSubscriber = "edgeflowd"

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the engine and block until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, edgeflow.NewLogger(cfg.Log, cmd.ErrOrStderr()), cmd.OutOrStdout())
		},
	}
}

// run starts the engine and stops it when ctx is done. With the stream tap
// enabled, matching records are written to out as JSON lines. extra is
// applied after the configured options.
func run(ctx context.Context, cfg edgeflow.Config, logger *slog.Logger, out io.Writer, extra ...engine.Option) error {
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMessageMapper(processor.MapperFunc(mapSample)),
	}
	var tap *stream.Subscriber
	if cfg.Stream.Enabled {
		topics, err := stream.ParseTopics(cfg.Stream.Topics)
		if err != nil {
			return err
		}
		broker := stream.NewBroker(logger)
		tap, err = broker.Subscribe(tapSubscriber, topics,
			stream.WithBuffer(cfg.Stream.Buffer),
			stream.WithCredits(int64(cfg.Stream.Buffer)),
		)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithExtension(broker))
	}
	if cfg.Audit.Enabled {
		opts = append(opts, engine.WithExtension(audithook.New(
			audithook.SlogRecorder(logger),
			audithook.WithActions(cfg.Audit.Actions...),
			audithook.WithLogger(logger),
		)))
	}
	if cfg.MQTT.Broker != "" {
		adapter, err := ingress.NewMQTT(ingress.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   cfg.MQTT.Topics,
			QoS:      cfg.MQTT.QoS,
			Codec:    cfg.MQTT.Codec,
			Priority: cfg.MQTT.Priority,
		}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithIngress(adapter))
	}

	eng, err := engine.New(cfg, append(opts, extra...)...)
	if err != nil {
		return err
	}
	eng.Register(sampleEvent, processor.Func(func(_ context.Context, ev *event.Event) ([]event.FollowOn, error) {
		logger.Debug("sample received",
			slog.String("device", ev.Device),
			slog.String("signal", ev.Attributes["signal"]),
		)
		return nil, nil
	}))

	tailed := make(chan error, 1)
	if tap != nil {
		// The broker closes tap on engine shutdown, which ends Tail.
		go func() { tailed <- stream.Tail(context.WithoutCancel(ctx), tap, out) }()
	} else {
		tailed <- nil
	}

	if err := eng.Start(ctx); err != nil {
		if tap != nil {
			tap.Close()
		}
		return fmt.Errorf("start engine: %w", err)
	}
	<-ctx.Done()
	logger.Info("shutdown requested")
	stopErr := eng.Stop(context.WithoutCancel(ctx))
	if err := <-tailed; err != nil {
		logger.Error("stream tap failed", slog.String("error", err.Error()))
	}
	return stopErr
}

// mapSample turns every reading into a SampleEvent carrying the message as
// its JSON payload.
func mapSample(_ context.Context, msg *codec.Message) (*event.Event, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return event.New(sampleEvent,
		event.WithDevice(msg.Device),
		event.WithPayload(payload),
		event.WithAttribute("signal", msg.Signal),
		event.WithAttribute("port", msg.Port),
	), nil
}
