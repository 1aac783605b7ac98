package measure

import (
	"fmt"
	"io"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Sink receives one telemetry record per measured packet.
type Sink interface {
	Emit(record string) error
}

// WriterSink prints records to an io.Writer, one per line. Safe for use
// from a single measurement loop; the mutex guards against a second
// loop sharing the same writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w as a telemetry sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit implements Sink.
func (s *WriterSink) Emit(record string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, record)
	return err
}

// MQTTSink publishes records to a single MQTT topic.
type MQTTSink struct {
	client paho.Client
	topic  string
}

// DefaultConnectTimeout bounds the initial broker handshake.
const DefaultConnectTimeout = 5 * time.Second

// NewMQTTSink connects to brokerURL and publishes every record to topic.
func NewMQTTSink(brokerURL, clientID, topic string) (*MQTTSink, error) {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(DefaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	return &MQTTSink{client: client, topic: topic}, nil
}

// Emit implements Sink. Records are published at QoS 0; a lost sample
// is preferable to stalling the packet path.
func (s *MQTTSink) Emit(record string) error {
	token := s.client.Publish(s.topic, 0, false, record)
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
