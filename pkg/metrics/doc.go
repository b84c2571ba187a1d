/*
Package metrics defines and registers the cluster core's Prometheus
metrics: per-group Raft term/commit-index/state, MVCC chain and intent
counts per partition, snapshot throughput, replica dispatch latency by
outcome, CMG join duration, and HLC drift. A Collector polls the Raft
groups and partition storages a node hosts on a 15-second interval and
republishes them as gauges; Handler exposes the registry over HTTP for
scraping.
*/
package metrics
