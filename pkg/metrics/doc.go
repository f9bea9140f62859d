/*
Package metrics exposes Prometheus instrumentation for a vault instance.

Metrics fall into two groups. Event counters (commits, conflicts, sync
rounds, blob bytes transferred, search queries) are incremented inline by
the code that observes the event — pkg/state's Commit, ApplyIncomingSnapshot,
and Search, pkg/sync's SyncWithPeer and blob-serving handler. Gauges
(document counts by head kind, blob count, conflict count) are refreshed on
a timer by pkg/baza's MetricsCollector, since they describe a point-in-time
snapshot of State rather than a rate. This package itself imports nothing
else from this module, so any package may depend on it without risk of an
import cycle.

Call Handler to mount /metrics on an HTTP server; it wraps
promhttp.Handler() against the default Prometheus registry.
*/
package metrics
