package mqtt

import (
	"context"
	"fmt"
)

// Publish sends payload to topic and waits for the broker to accept it.
// Payloads are capped at 1 MiB.
//
//	topic := client.Topics().State("variables", "scene")
//	err := client.Publish(topic, []byte(`"night"`), 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	if err := await(context.Background(), c.paho.Publish(topic, qos, retained, payload), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe routes messages matching filter to handler. Filters may use
// the '+' and '#' wildcards. Subscribing an existing filter again replaces
// its handler. Subscriptions are restored after a reconnect.
//
// Parameters:
//   - filter: Topic filter, checked with ValidateFilter
//   - qos: Maximum QoS for delivered messages
//   - handler: Called once per message
//
// Returns:
//   - error: ErrInvalidFilter, ErrInvalidQoS, ErrNotConnected or ErrSubscribeFailed
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	switch {
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(context.Background(), c.paho.Subscribe(filter, qos, c.wrapHandler(handler)), defaultPublishTimeout); err != nil {
		c.mu.Lock()
		delete(c.subs, filter)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// Unsubscribe stops routing filter. Messages already in flight may still
// reach the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.subs, filter)
	c.mu.Unlock()

	if err := await(context.Background(), c.paho.Unsubscribe(filter), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, filter, err)
	}
	return nil
}
