package main

import (
	"context"

	"github.com/LdDl/brick-tracker/internal/config"
	"github.com/LdDl/brick-tracker/inventory"
	"github.com/LdDl/brick-tracker/tracker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// openInventory builds the configured backend. The returned function releases it
func openInventory(ctx context.Context, cfg config.InventoryConfig, log *logrus.Logger) (tracker.InventoryService, func(), error) {
	var (
		service tracker.InventoryService
		closer  = func() {}
	)
	switch cfg.Backend {
	case config.BackendNone:
		service = tracker.NopInventory{}
	case config.BackendMemory:
		service = inventory.NewMemoryService()
	case config.BackendSQLite:
		svc, err := inventory.NewSQLiteService(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		service = svc
		closer = func() {
			if err := svc.Close(); err != nil {
				log.WithError(err).Warn("can't close sqlite inventory")
			}
		}
	case config.BackendMQTT:
		svc, disconnect, err := inventory.DialMQTT(inventory.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		})
		if err != nil {
			return nil, nil, err
		}
		service = svc
		closer = disconnect
	case config.BackendWebSocket:
		svc, err := inventory.DialWS(ctx, cfg.WebSocket.URL)
		if err != nil {
			return nil, nil, err
		}
		service = svc
		closer = func() {
			if err := svc.Close(); err != nil {
				log.WithError(err).Warn("can't close websocket inventory")
			}
		}
	default:
		return nil, nil, errors.Errorf("unknown inventory backend %q", cfg.Backend)
	}

	if !cfg.Async {
		return service, closer, nil
	}
	dispatcher := inventory.NewDispatcher(
		service,
		inventory.WithQueueSize(cfg.QueueSize),
		inventory.WithRequestTimeout(cfg.GetRequestTimeout()),
		inventory.WithDispatcherLogger(log.WithField("component", "inventory-dispatcher")),
	)
	closeBackend := closer
	closer = func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			log.WithError(err).Warn("inventory queue not drained")
		}
		if failures := dispatcher.Failures(); failures > 0 {
			log.WithField("failures", failures).Warn("some inventory calls failed")
		}
		closeBackend()
	}
	return dispatcher, closer, nil
}
