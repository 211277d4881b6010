/*
Package metrics exports the faker's operations and capacity numbers to Prometheus.

# Overview

A Collector owns a private Prometheus registry (never the global default) so
several sessions in one process do not collide. The HTTP control API serves
it at /metrics and a plain-text operation summary at /debug/operations.

	┌─────────────┐  RecordOperation   ┌──────────────────────┐
	│   session   │ ─────────────────► │      Collector       │
	│  (statfs,   │  UpdateCapacity    │ operations_total     │
	│   setters)  │ ─────────────────► │ operation_duration_… │
	└─────────────┘                    │ errors_total{code}   │
	                                   │ capacity_blocks{kind}│
	                                   │ block_size_bytes     │
	                                   └──────────┬───────────┘
	                                              │ Handler()
	                                              ▼
	                                          /metrics

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Namespace: "fspropfaker",
	})
	if err != nil {
		return err
	}

	start := time.Now()
	snap, err := engine.Statfs("")
	collector.RecordOperation("statfs", time.Since(start), err)

Errors are counted by their FakerError code; plain errors count as
INTERNAL_ERROR. The capacity gauge carries one series per kind:
real_total, real_avail, fake_total, fake_avail and fake_free.

A disabled collector accepts every call and its Handler answers 404.
*/
package metrics
