// Package audithook is an extension that turns engine lifecycle hooks into
// structured audit records.
//
// Every hook emits an [AuditEvent] through the [Recorder] interface with a
// severity (info for normal dispatch, warning for throttling and dropped
// duplicates, critical for processor failures) and metadata such as the
// event type, device, dedup key and elapsed time.
//
// # Logging recorder
//
//	eng, _ := engine.New(cfg, engine.WithExtension(
//	    audithook.New(audithook.SlogRecorder(logger)),
//	))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionEventFailed,
//	        audithook.ActionEventThrottled,
//	    ),
//	)
package audithook
