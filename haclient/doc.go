// Package haclient provides a high-availability AMQP 0-9-1 client that
// fronts a priority-ordered set of broker connections as one logical
// endpoint.
//
// Client code publishes, subscribes, and declares exchanges and queues
// against the aggregate; the package decides which underlying broker
// connection to use, maintains per-connection lifecycle (connect,
// heartbeat, reconnect, close), handles undeliverable-message returns by
// re-routing to a peer broker, and reports aggregated connection status.
//
// Example usage:
//
//	coord, err := haclient.New("broker0.example.com,broker1.example.com", "5672", &haclient.Config{
//		User:       "guest",
//		Pass:       "guest",
//		Heartbeat:  30 * time.Second,
//		Serializer: haclient.JSONSerializer{},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer coord.Close(nil)
//
//	coord.Subscribe("orders", nil, haclient.SubscribeOptions{}, haclient.Handler(
//		func(identity string, message interface{}) {
//			log.Printf("received from %s: %v", identity, message)
//		}))
//
//	coord.Publish("orders-exchange", []byte("hello"), haclient.PublishOptions{Mandatory: true})
package haclient
