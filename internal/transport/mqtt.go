// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/relabs-tech/look_at_pose/internal/logging"
)

// MQTTOptions describes how to reach the broker.
type MQTTOptions struct {
	Broker         string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTBus is a Bus backed by a paho MQTT client.
type MQTTBus struct {
	client mqtt.Client
	qos    byte
	logger logging.Logger

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// DialMQTT connects to the broker and returns a ready bus. Subscriptions
// are restored after the client reconnects.
func DialMQTT(opts MQTTOptions, logger logging.Logger) (*MQTTBus, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	b := &MQTTBus{
		qos:    opts.QoS,
		logger: logger,
		subs:   map[string]MessageHandler{},
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.ConnectTimeout).
		SetAutoReconnect(true).
		// handlers run on their own goroutines so they may publish replies
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnf("mqtt: connection to %s lost: %v", opts.Broker, err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			logger.Infof("mqtt: reconnecting to %s", opts.Broker)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.resubscribe(c)
		})

	b.client = mqtt.NewClient(clientOpts)
	token := b.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, errors.Wrapf(ErrTimeout, "connect to %s", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(ErrTransport, "connect to %s: %v", opts.Broker, err)
	}
	logger.Infof("mqtt: connected to broker at %s as %s", opts.Broker, opts.ClientID)
	return b, nil
}

// Publish sends payload on topic and waits for the broker to accept it.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	token := b.client.Publish(topic, b.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errors.Wrapf(ErrTimeout, "publish to %s: %v", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(ErrTransport, "publish to %s: %v", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic.
func (b *MQTTBus) Subscribe(topic string, handler MessageHandler) error {
	token := b.client.Subscribe(topic, b.qos, wrapHandler(handler))
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(ErrTransport, "subscribe to %s: %v", topic, err)
	}
	b.mu.Lock()
	b.subs[topic] = handler
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription for topic.
func (b *MQTTBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.subs, topic)
	b.mu.Unlock()

	token := b.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(ErrTransport, "unsubscribe from %s: %v", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}

func (b *MQTTBus) resubscribe(c mqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, handler := range b.subs {
		token := c.Subscribe(topic, b.qos, wrapHandler(handler))
		go func(topic string) {
			token.Wait()
			if err := token.Error(); err != nil {
				b.logger.Errorf("mqtt: resubscribe to %s failed: %v", topic, err)
				return
			}
			b.logger.Infof("mqtt: resubscribed to %s", topic)
		}(topic)
	}
}

func wrapHandler(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}
