// Package notify forwards provisioning events to an MQTT broker so other
// systems can follow a provisioning run.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/events"
	"github.com/srg/blinkup/internal/provision"
)

const (
	eventQoS       = 1
	publishTimeout = 5 * time.Second
	bufferSize     = 256
)

// Options configures the broker connection.
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes events as JSON to {topic}/{address}. Publish never blocks;
// when the broker is slow the oldest pending events are dropped.
type MQTTSink struct {
	client publisher
	topic  string
	logger *logrus.Logger

	queue      *events.RingChannel[provision.Event]
	done       chan struct{}
	closeOnce  sync.Once
	disconnect func()
}

// Dial connects to the broker and returns a running sink.
func Dial(opts Options, logger *logrus.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("blinkup-%d", time.Now().UnixNano())
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetCleanSession(true)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	}

	client := mqtt.NewClient(co)
	if tk := client.Connect(); tk.Wait() && tk.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, tk.Error())
	}
	logger.WithField("broker", opts.Broker).Info("Connected to MQTT broker")

	sink := NewSink(client, opts.Topic, logger)
	sink.disconnect = func() { client.Disconnect(250) }
	return sink, nil
}

// NewSink starts a sink on an already connected client.
func NewSink(client publisher, topic string, logger *logrus.Logger) *MQTTSink {
	if logger == nil {
		logger = logrus.New()
	}
	s := &MQTTSink{
		client: client,
		topic:  strings.TrimRight(topic, "/"),
		logger: logger,
		queue:  events.NewRingChannel[provision.Event](bufferSize),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *MQTTSink) Publish(ev provision.Event) {
	if s.queue.Send(ev) {
		s.logger.Debug("MQTT queue full, dropped oldest event")
	}
}

// Close flushes queued events and disconnects.
func (s *MQTTSink) Close() {
	s.closeOnce.Do(func() {
		s.queue.Close()
		<-s.done
		if s.disconnect != nil {
			s.disconnect()
		}
	})
}

// Topic returns the topic an event is published to.
func (s *MQTTSink) Topic(ev provision.Event) string {
	if ev.Address == "" {
		return s.topic + "/scan"
	}
	return s.topic + "/" + strings.ToLower(strings.ReplaceAll(ev.Address, ":", ""))
}

func (s *MQTTSink) loop() {
	defer close(s.done)
	for ev := range s.queue.C() {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to encode event")
			continue
		}

		topic := s.Topic(ev)
		tk := s.client.Publish(topic, eventQoS, false, payload)
		if !tk.WaitTimeout(publishTimeout) {
			s.logger.WithField("topic", topic).Warn("MQTT publish timed out")
			continue
		}
		if err := tk.Error(); err != nil {
			s.logger.WithError(err).WithField("topic", topic).Warn("MQTT publish failed")
		}
	}
}
