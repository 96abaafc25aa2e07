// Package memoryhost provides an in-memory alerts.Host suitable for tests,
// development, and single-process hubs. All state is discarded on exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Ordering          : monotonic decimal IDs, publish order per topic
//	Slow subscribers  : disconnected with alerts.ErrSlowConsumer
package memoryhost
