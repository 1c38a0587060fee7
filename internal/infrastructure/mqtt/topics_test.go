package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slaclab/sc-linac-physics/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	assert.Equal(t, "sclinac/status/CM02/3", topics.NodeStatus("CM02/3"))
	assert.Equal(t, "sclinac/status/machine", topics.NodeStatus("machine"))
	assert.Equal(t, "sclinac/result/L1B", topics.SetupResult("L1B"))
	assert.Equal(t, "sclinac/quench/CM02/3", topics.QuenchEvent("CM02/3"))
	assert.Equal(t, "sclinac/system/status", topics.SystemStatus())

	assert.Equal(t, "sclinac/status/#", topics.AllStatus())
	assert.Equal(t, "sclinac/result/#", topics.AllResults())
	assert.Equal(t, "sclinac/quench/#", topics.AllQuenches())
}

func TestNodeFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"sclinac/status/CM02/3", "CM02/3"},
		{"sclinac/status/machine", "machine"},
		{"sclinac/result/L1B", "L1B"},
		{"sclinac/quench/CM01/8", "CM01/8"},
		{"sclinac/system/status", ""},
		{"other/status/CM02", ""},
		{"sclinac/status", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NodeFromTopic(tt.topic), "topic %q", tt.topic)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     1883,
			ClientID: "sclinac-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "svc",
			Password: "secret",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}

	opts := buildClientOptions(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp", opts.Servers[0].Scheme)
	assert.Equal(t, "broker.local:1883", opts.Servers[0].Host)
	assert.Equal(t, "sclinac-test", opts.ClientID)
	assert.Equal(t, "svc", opts.Username)
	assert.True(t, opts.AutoReconnect)
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     8883,
			TLS:      true,
			ClientID: "sclinac-test",
		},
	}

	opts := buildClientOptions(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl", opts.Servers[0].Scheme)
	require.NotNil(t, opts.TLSConfig)
	assert.GreaterOrEqual(t, int(opts.TLSConfig.MinVersion), tlsMinVersion)
}

func TestStatusPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"online":  buildOnlinePayload("sclinac-test"),
		"offline": buildOfflinePayload("sclinac-test"),
	} {
		var decoded map[string]string
		require.NoError(t, json.Unmarshal([]byte(payload), &decoded), name)
		assert.Equal(t, name, decoded["status"])
		assert.Equal(t, "sclinac-test", decoded["client_id"])
		assert.NotEmpty(t, decoded["timestamp"])
	}
}
