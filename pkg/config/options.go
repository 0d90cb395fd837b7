package config

import (
	"errors"
	"io"
	"os"

	"github.com/odvcencio/appbridge/pkg/bridge"
	"github.com/odvcencio/appbridge/pkg/capabilities"
	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/jsvm"
	"github.com/odvcencio/appbridge/pkg/lifecycle"
	"github.com/odvcencio/appbridge/pkg/logs"
	"github.com/odvcencio/appbridge/pkg/logsink"
	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
	"github.com/odvcencio/appbridge/pkg/transport/webdriver"
	"github.com/odvcencio/appbridge/pkg/transport/websocket"
)

// Console is where console sinks write. Tests replace it.
var Console io.Writer = os.Stderr

// Layers converts the capability sections. For the websocket driver the
// configured endpoint becomes a layer of its own, applied first so file
// layers can still override it.
func (c *Config) Layers() []capabilities.Layer {
	layers := make([]capabilities.Layer, 0, len(c.Capabilities)+1)
	if c.Session.Driver == DriverWebSocket && c.Session.Endpoint != "" {
		layers = append(layers, capabilities.Layer{
			Name:   "session",
			Values: map[string]any{capabilities.DesktopKey: map[string]any{"endpoint": c.Session.Endpoint}},
		})
	}
	for i, layer := range c.Capabilities {
		layers = append(layers, capabilities.Layer{Name: layerLabel(layer, i), Values: layer.Values})
	}
	return layers
}

// Establisher builds the configured session driver.
func (c *Config) Establisher(logger *observability.Logger) (session.Establisher, error) {
	switch c.Session.Driver {
	case DriverJSVM:
		return &jsvm.Host{Preload: c.Session.Preload, Logger: logger}, nil
	case DriverWebSocket:
		return &websocket.Dialer{
			Endpoints:   c.Session.Endpoints,
			Token:       c.Session.Token,
			DialTimeout: c.Session.DialTimeout,
			Logger:      logger,
		}, nil
	case DriverWebDriver:
		return &webdriver.Driver{
			URL:          c.Session.Endpoint,
			PollInterval: c.Session.PollInterval,
			Logger:       logger,
		}, nil
	default:
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "unknown session driver").
			WithContext("driver", c.Session.Driver)
	}
}

// Sinks opens the configured log sinks. The returned Multi must be closed
// after the controller is torn down. No sinks yields nil.
func (c *Config) Sinks() (logsink.Multi, error) {
	var out logsink.Multi
	for i, sc := range c.Logs.Sinks {
		var (
			sink logs.Sink
			err  error
		)
		switch sc.Type {
		case SinkConsole:
			var opts []logsink.ConsoleOption
			if sc.Timestamps {
				opts = append(opts, logsink.WithTimestamps())
			}
			sink = logsink.NewConsole(Console, opts...)
		case SinkJSONL:
			sink, err = logsink.NewJSONL(expandHomeDir(sc.Dir))
		case SinkSQLite:
			sink, err = logsink.NewSQLite(expandHomeDir(sc.Path))
		case SinkNATS:
			sink, err = logsink.NewNATS(logsink.NATSConfig{URL: sc.URL, Name: "appbridge"})
		default:
			err = errors.New("unknown sink type " + sc.Type)
		}
		if err != nil {
			_ = out.Close()
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "cannot open log sink").
				WithContext("sink", i).
				WithContext("type", sc.Type)
		}
		out = append(out, sink)
	}
	return out, nil
}

// Options converts the configuration into controller options. The
// returned closer releases the log sinks.
func (c *Config) Options(scope *observability.Scope) (lifecycle.Options, io.Closer, error) {
	scope = scope.OrDefault()
	est, err := c.Establisher(scope.Logger)
	if err != nil {
		return lifecycle.Options{}, nil, err
	}
	sinks, err := c.Sinks()
	if err != nil {
		return lifecycle.Options{}, nil, err
	}
	level, _ := logs.ParseLevel(c.Logs.MinLevel)

	bridgeOpts := []bridge.Option{bridge.WithTimeout(c.Bridge.Timeout)}
	if len(c.Bridge.Globals) > 0 {
		bridgeOpts = append(bridgeOpts, bridge.WithGlobals(c.Bridge.Globals...))
	}
	if !c.Bridge.ClosureCheck {
		bridgeOpts = append(bridgeOpts, bridge.WithoutClosureCheck())
	}
	if c.Session.Driver != DriverJSVM {
		// Webviews parse more than goja does; they report their own
		// syntax errors.
		bridgeOpts = append(bridgeOpts, bridge.WithoutSyntaxCheck())
	}

	opts := lifecycle.Options{
		Target:        c.Descriptor(),
		Layers:        c.Layers(),
		Establisher:   est,
		Instances:     append([]string(nil), c.Session.Instances...),
		BridgeOptions: bridgeOpts,
		LogOptions:    []logs.Option{logs.WithMinLevel(level), logs.WithBatchSize(c.Logs.BatchSize)},
		Scope:         scope,
	}
	if len(sinks) > 0 {
		opts.Sink = sinks
	}
	return opts, sinks, nil
}
