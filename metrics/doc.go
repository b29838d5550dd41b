// Package metrics exposes engine state that is read on scrape rather than
// counted on the request path.
//
// Event counters live on authcore.Metrics and are registered by the engine
// builder. This package adds collectors that poll the engine, such as the
// number of audit events dropped under backpressure.
package metrics
