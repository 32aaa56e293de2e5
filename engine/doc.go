// Package engine wires the edgeflow subsystems together: the seven-lane
// queue, the delay scheduler and its pump, the dedup inventory, throttle
// limits, the device connection pool, the processor registry, middleware,
// extensions, the dead letter queue and the worker pool.
//
// It sits above every subsystem package so that none of them has to import
// another's wiring.
//
// # Building an Engine
//
//	cfg, err := edgeflow.LoadFile("edgeflow.yaml")
//	eng, err := engine.New(cfg,
//	    engine.WithLogger(logger),
//	    engine.WithMessageMapper(mapper),
//	    engine.WithIngress(mqttAdapter),
//	)
//
// # Registering Processors
//
//	eng.Register("SampleEvent", processor.Func(handleSample))
//
// # Submitting Work
//
//	eng.Submit(ctx, event.New("OeeEvent", event.WithPriority(1)))
//	eng.Schedule(ctx, event.New("OeeEvent", event.WithDedupKey(key)), 5*time.Second)
//
// # Options
//
//   - [WithLogger]: shared slog logger
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware after the built-in chain
//   - [WithMessageMapper]: map ingress messages to events
//   - [WithIngress]: attach protocol adapters
//   - [WithDialer]: dial device connections
//   - [WithDLQStore]: replace the in-memory dead letter store
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
