// Package edgeflow is the configuration root of an edge event-processing
// engine: devices feed samples through protocol adapters, samples become
// domain events, and events run processors that may emit further events
// (immediate, delayed or recurring).
//
// The dispatch substrate lives in subpackages:
//
//   - queue: seven-lane bounded priority queue (lane 0 is highest)
//   - delay: fire-time ordered scheduler and cron schedules
//   - dedup: inventory of pending recurring-event keys
//   - throttle: per-event-type concurrency and rate limits
//   - worker: the dispatcher pool
//   - connpool: bounded pool of outbound device connections
//   - engine: wires all of the above from a Config
//
// # Quick Start
//
//	cfg, err := edgeflow.NewConfig(
//	    edgeflow.WithWorkers(8),
//	    edgeflow.WithThrottle("OeeEvent", 2),
//	)
//	eng, err := engine.New(cfg, engine.WithLogger(logger))
//	eng.Processors().RegisterFunc("OeeEvent", computeOee)
//	_ = eng.Start(ctx)
//	_ = eng.Submit(ctx, event.New("OeeEvent", event.WithPriority(1)))
//
// Configuration can also be loaded from YAML or JSON with LoadFile.
package edgeflow
