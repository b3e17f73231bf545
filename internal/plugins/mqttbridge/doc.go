// Package mqttbridge implements the "mqtt" plugin, connecting the engine
// to an MQTT broker.
//
// Bindings copy incoming messages into state cells:
//
//	mqtt:
//	  bindings:
//	    - topic: "stage/sensors/door"
//	      key: door_open
//	      type: boolean
//	    - topic: "stage/sensors/climate"
//	      key: temperature
//	      type: number
//	      field: readings.celsius   # JSON path inside the payload
//
// Trigger mqtt.message is raised for messages on any topic an active
// profile maps it to. The mapping config {topic} accepts MQTT wildcards and
// the automation context is {topic, payload}. Subscriptions follow the
// active profiles: the plugin subscribes when a profile mapping a topic
// activates and unsubscribes once no active profile needs it.
//
// Action mqtt.publish sends {topic, payload, qos?, retain?}; topic and
// string payloads are templates, other payloads are rendered and sent as
// JSON.
package mqttbridge
