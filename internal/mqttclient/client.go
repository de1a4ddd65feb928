// Package mqttclient maintains one subscription per configured broker and
// feeds classified messages into the pipeline. Connections auto-reconnect
// with a fixed 5 second backoff; subscriptions are re-established on every
// connect.
package mqttclient

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/decode"
	"github.com/ccall48/lorawan-analyzer/internal/pipeline"
	"github.com/ccall48/lorawan-analyzer/internal/telemetry"
)

const (
	connectTimeout    = 10 * time.Second
	reconnectInterval = 5 * time.Second
	disconnectQuiesce = 250 // ms, paho wants milliseconds here
)

// Sink receives classified broker messages. Satisfied by *pipeline.Pipeline.
type Sink interface {
	Enqueue(pipeline.Message)
}

// Client is one broker connection.
type Client struct {
	cfg  config.MQTTConfig
	sink Sink
	conn mqtt.Client
	log  zerolog.Logger
	name string
}

// New prepares a client for one broker. Start opens the connection.
func New(cfg config.MQTTConfig, sink Sink, log zerolog.Logger) *Client {
	c := &Client{
		cfg:  cfg,
		sink: sink,
		name: cfg.Server,
		log:  log.With().Str("component", "mqtt").Str("server", cfg.Server).Logger(),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("lorawan-analyzer-%s", uuid.NewString()[:8])
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Server)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectRetryInterval(reconnectInterval)
	opts.SetMaxReconnectInterval(reconnectInterval)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.log.Info().Str("topic", c.cfg.Topic).Msg("mqtt connected, subscribing")
		token := client.Subscribe(c.cfg.Topic, 0, c.handleMessage)
		if token.Wait() && token.Error() != nil {
			c.log.Error().Err(token.Error()).Str("topic", c.cfg.Topic).Msg("mqtt subscribe failed")
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		telemetry.MQTTReconnects.WithLabelValues(c.name).Inc()
		c.log.Info().Msg("mqtt reconnecting")
	})

	c.conn = mqtt.NewClient(opts)
	return c
}

// Start opens the connection. With retry enabled an unreachable broker is
// not an error; the client keeps dialing in the background.
func (c *Client) Start() error {
	token := c.conn.Connect()
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Server, token.Error())
	}
	return nil
}

// Stop disconnects, waiting briefly for in-flight handlers.
func (c *Client) Stop() {
	c.conn.Disconnect(disconnectQuiesce)
	c.log.Info().Msg("mqtt disconnected")
}

// handleMessage runs on the paho dispatch goroutine. Unknown topics are
// dropped here so the pipeline only ever sees classified messages; a full
// pipeline blocks us, which backpressures the broker connection.
func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	telemetry.MessagesReceived.WithLabelValues(c.name).Inc()

	info := decode.ClassifyTopic(msg.Topic())
	if info.Kind == decode.TopicUnknown {
		return
	}

	c.sink.Enqueue(pipeline.Message{
		Topic:   info,
		Payload: msg.Payload(),
		Broker:  c.name,
		Format:  c.cfg.Format,
	})
}
