// Package inventory provides tracker.InventoryService implementations: an
// in-memory registry, a SQLite-backed registry, MQTT and WebSocket clients of a
// remote world-model, and Dispatcher, which moves calls of any of them off the
// frame loop.
package inventory
