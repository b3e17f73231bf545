// Package mqtt provides MQTT client connectivity for cuebox.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Topic builders and wildcard matching for the mqtt plugin
//
// # Architecture
//
// MQTT is both an input and an output of the engine. The mqtt plugin turns
// subscribed topics into state and into its message trigger, and its
// publish action sends from automations. The engine mirrors state changes
// and run results under the configured topic prefix.
//
//	sensors, consoles ↔ MQTT Broker ↔ cuebox
//
// # Topics
//
//	<prefix>/state/<plugin>/<key>           mirrored state (retained)
//	<prefix>/profiles/status                active/inactive partition
//	<prefix>/automation/<name>/finished     run results
//	<prefix>/system/status                  online/offline (retained, LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, log.Component("mqtt"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("sensors/+/temperature", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
