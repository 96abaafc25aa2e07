// Package alerts models "human needed" alerts: conversations an assistant
// has handed over to a person. A Service keeps the set of pending alerts in
// a Host and publishes every change to the per-assistant topic and to the
// global topic, which is what the hub streams to dashboards.
//
// Hosts come in two flavours: memoryhost for tests and single-process
// deployments, and redishost for horizontally scaled hubs. Both must pass
// hosttest.RunHostTests.
package alerts
