// Command hcibridge bridges a Bluetooth host and controller over two
// serial ports, correlating hardware timestamps on the way through and
// reporting ISO presentation latency.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/bridge"
	"github.com/opd-ai/hcibridge/bufpool"
	"github.com/opd-ai/hcibridge/config"
	"github.com/opd-ai/hcibridge/measure"
	"github.com/opd-ai/hcibridge/synctimer"
	"github.com/opd-ai/hcibridge/timesync"
	"github.com/opd-ai/hcibridge/transport"
)

func main() {
	configPath := flag.String("config", "hcibridge.toml", "path to the bridge configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("configuration rejected")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("bad log level")
	}
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("bridge stopped")
	}
	logrus.Info("bridge shut down")
}

func run(ctx context.Context, cfg config.Config) error {
	host, err := transport.OpenSerial(cfg.Host.Device, cfg.Host.Baud)
	if err != nil {
		return err
	}
	defer host.Close()
	ctrl, err := transport.OpenSerial(cfg.Controller.Device, cfg.Controller.Baud)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	hostPool := bufpool.New(cfg.Bridge.PoolCount, cfg.Bridge.PoolCapacity)
	ctrlPool := bufpool.New(cfg.Bridge.PoolCount, cfg.Bridge.PoolCapacity)

	timer := synctimer.NewClockTimer()
	defer timer.Stop()
	correlator := synctimer.NewCorrelator(timer, cfg.Sync.JitterBound)

	registry := bridge.NewCommandRegistry()
	hostBridge := bridge.New(host, hostPool, bridge.AcceptInbound, registry)
	ctrlBridge := bridge.New(ctrl, ctrlPool, bridge.AcceptOutbound, nil)

	// Measurement toggles share the timesync line unless configured
	// apart, so one analyzer channel sees both edge sources.
	timesyncPin := synctimer.NewLogPin(cfg.Sync.TimesyncPin)
	measurePin := timesyncPin
	if cfg.Sync.MeasurePin != cfg.Sync.TimesyncPin {
		measurePin = synctimer.NewLogPin(cfg.Sync.MeasurePin)
	}

	if cfg.Sync.Timesync {
		handler := timesync.NewHandler(correlator, timesyncPin,
			hostBridge.Sender, hostPool, cfg.Bridge.RawH4)
		handler.Register(registry)
	}

	reporter := bridge.NewFaultReporter(host)
	policy, err := cfg.Sync.RearmPolicy()
	if err != nil {
		return err
	}
	scheduler := synctimer.NewToggleScheduler(timer, synctimer.NewLogPin(cfg.Sync.TogglePin),
		cfg.Sync.PresentationWindow, policy)
	scheduler.SetFaultHook(reporter.FaultHook)
	scheduler.Trigger(cfg.Sync.TriggerDelay)

	sinks, closeSinks, err := telemetrySinks(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer closeSinks()
	measurer := measure.New(correlator, measurePin, sinks...)

	if cfg.Bridge.WaitNOP {
		if err := hostBridge.AnnounceReady(); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{
		"host":       cfg.Host.Device,
		"controller": cfg.Controller.Device,
	}).Info("bridge running")

	dispatchErr := make(chan error, 1)
	go func() {
		// Host-to-controller: local vendor commands are answered in
		// place, everything else goes to the controller.
		dispatchErr <- hostBridge.RunDispatch(ctx, ctrlBridge.Sender)
	}()

	// Controller-to-host: every packet is inspected for timestamps and
	// forwarded to the host.
	err = measurer.Run(ctx, ctrlBridge.Inbound(), hostBridge.Sender)
	if derr := <-dispatchErr; err == nil {
		err = derr
	}
	return err
}

// telemetrySinks builds the configured sink set and a cleanup func.
func telemetrySinks(cfg config.TelemetryConfig) ([]measure.Sink, func(), error) {
	switch cfg.Mode {
	case "none":
		return nil, func() {}, nil
	case "writer":
		return []measure.Sink{measure.NewWriterSink(os.Stdout)}, func() {}, nil
	case "mqtt":
		clientID := cfg.MQTTClientID
		if clientID == "" {
			clientID = "hcibridge"
		}
		sink, err := measure.NewMQTTSink(cfg.MQTTBroker, clientID, cfg.MQTTTopic)
		if err != nil {
			return nil, nil, err
		}
		return []measure.Sink{sink}, sink.Close, nil
	}
	return nil, nil, errors.New("unreachable telemetry mode")
}
