package broadcast

import (
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// mqttClient is the subset of mqtt.Client the broadcaster uses.
type mqttClient interface {
	Connect() mqtt.Token
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

var _ Broadcaster = &MQTT{}

// MQTT publishes each message as a retained QoS 0 message on one topic.
// While the broker is unreachable messages are dropped; the client keeps
// reconnecting in the background.
type MQTT struct {
	client mqttClient
	topic  string

	mu      sync.Mutex
	pending mqtt.Token
	dropped uint64
}

// NewMQTT starts connecting to broker (for example tcp://localhost:1883)
// and returns immediately.
func NewMQTT(broker, topic string) *MQTT {
	host, _ := os.Hostname()
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("tankmon-%s-%d", host, os.Getpid())).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			logrus.WithField("broker", broker).Info("connected to MQTT broker")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logrus.WithError(err).WithField("broker", broker).Warn("lost connection to MQTT broker")
		})

	m := newMQTT(mqtt.NewClient(opts), topic)
	m.client.Connect()
	return m
}

func newMQTT(c mqttClient, topic string) *MQTT {
	return &MQTT{client: c, topic: topic}
}

func (m *MQTT) BroadcastText(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		select {
		case <-m.pending.Done():
			if err := m.pending.Error(); err != nil {
				logrus.WithError(err).WithField("topic", m.topic).Warn("failed to publish to MQTT")
			}
		default:
			// Previous message is still in flight.
			m.dropped++
			return
		}
	}

	if !m.client.IsConnectionOpen() {
		m.pending = nil
		m.dropped++
		return
	}
	m.pending = m.client.Publish(m.topic, 0, true, msg)
}

// Dropped returns how many messages were not handed to the client.
func (m *MQTT) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
