// Command example wires a two-broker HABrokerClient, subscribes to a
// queue, registers a connection-status watcher, and publishes a
// mandatory message — mirroring the package doc comment's usage sketch.
package main

import (
	"log"
	"log/slog"
	"time"

	"github.com/sergeyenin/right-amqp/haclient"
)

func main() {
	coord, err := haclient.New(
		"broker0.example.com,broker1.example.com",
		"5672",
		&haclient.Config{
			User:              "guest",
			Pass:              "guest",
			VHost:             "/",
			Heartbeat:         30 * time.Second,
			ReconnectInterval: 10 * time.Second,
			Prefetch:          50,
			Order:             haclient.PriorityOrder,
			Serializer:        haclient.JSONSerializer{},
			ExceptionCallback: func(err error, context interface{}, source interface{}) {
				slog.Error("tracked exception", "error", err, "context", context)
			},
		},
	)
	if err != nil {
		log.Fatalf("construct coordinator: %v", err)
	}
	defer coord.Close(func() { slog.Info("coordinator closed") })

	coord.NonDelivery(func(reason, packetType, token, from, to string) {
		slog.Warn("message undeliverable", "reason", reason, "type", packetType, "token", token, "from", from, "to", to)
	})

	coord.ConnectionStatus(haclient.ConnectionStatusOptions{Boundary: haclient.BoundaryAny}, func(watcherID string, event haclient.StatusEvent, identities []string) {
		slog.Info("connection status changed", "watcher", watcherID, "event", string(event), "brokers", identities)
	})

	coord.Subscribe("orders", &haclient.ExchangeBinding{Name: "orders-exchange", Type: "direct", Durable: true, Key: "orders"},
		haclient.SubscribeOptions{Ack: true},
		haclient.Handler(func(identity string, message interface{}) {
			slog.Info("received order", "from", identity, "message", message)
		}))

	identities, err := coord.Publish("orders-exchange", map[string]interface{}{"id": "1001", "sku": "widget"},
		haclient.PublishOptions{RoutingKey: "orders", Mandatory: true, Persistent: true})
	if err != nil {
		slog.Error("publish failed", "error", err)
		return
	}
	slog.Info("published", "brokers", identities)
}
