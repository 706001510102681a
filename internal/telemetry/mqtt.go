// Package telemetry mirrors coordinator events onto an MQTT broker, for
// operators who already have MQTT-based fleet monitoring in place. It is
// off by default and adds no functional dependency for the query path
// itself — losing the broker only loses visibility, never correctness.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/obslog"
	"github.com/hyquery/hyquery/internal/util"
)

var log = obslog.Component("telemetry")

// Topics this handler publishes to.
const (
	TopicWorkerAccepted = "hyquery/worker/accepted"
	TopicWorkerRejected = "hyquery/worker/rejected"
	TopicPublishFailed  = "hyquery/publish/failed"
)

// Handler manages the MQTT connection and publishes coordinator events.
type Handler struct {
	client   mqtt.Client
	metadata map[string]interface{}
}

// NewHandler builds an MQTT telemetry handler from cfg.Observability.MQTT.
// Returns an error if MQTT is disabled so callers can skip Start entirely.
func NewHandler(cfg config.MQTTConfig) (*Handler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("telemetry: mqtt is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname": sysInfo.Hostname,
		"platform": sysInfo.Platform,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("hyquery-%s", sysInfo.Hostname)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if len(opts.Servers) > 0 && opts.Servers[0].Scheme == "ssl" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	return &Handler{
		client:   mqtt.NewClient(opts),
		metadata: metadata,
	}, nil
}

// Start connects to the broker, waiting for the connection attempt to
// finish; the client disconnects when ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("telemetry: mqtt connect failed: %w", token.Error())
	}
	go func() {
		<-ctx.Done()
		h.client.Disconnect(2000)
	}()
	return nil
}

func (h *Handler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal mqtt message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// OnWorkerAccepted mirrors a successfully accepted status packet.
func (h *Handler) OnWorkerAccepted(workerID string, online, max int32) {
	h.publish(TopicWorkerAccepted, map[string]interface{}{
		"workerId": workerID,
		"online":   online,
		"max":      max,
	})
}

// OnWorkerRejected mirrors a rejected status packet (unknown id, bad HMAC,
// or stale timestamp).
func (h *Handler) OnWorkerRejected(workerID string, statusCode byte) {
	h.publish(TopicWorkerRejected, map[string]interface{}{
		"workerId":   workerID,
		"statusCode": statusCode,
	})
}

// OnPublishFailed mirrors a shared-store publish failure.
func (h *Handler) OnPublishFailed(namespace string, err error) {
	h.publish(TopicPublishFailed, map[string]interface{}{
		"namespace": namespace,
		"error":     err.Error(),
	})
}
