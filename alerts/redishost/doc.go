// Package redishost implements alerts.Host on Redis.
//
// Updates are appended to one Redis stream per topic and read with XREAD,
// so several hub replicas can share the same fan-out. Pending alerts live
// in one hash per assistant, keyed by conversation id, plus a set that
// indexes the assistants with pending alerts.
package redishost
