package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/quench"
	"github.com/slaclab/sc-linac-physics/internal/setup"
)

// Publisher fans orchestrator output onto the broker: state transitions
// to retained status topics, results and quench events to event topics.
// It implements setup.Recorder and quench.EventSink. Publish failures are
// logged and dropped; the broker is a mirror, not a dependency.
type Publisher struct {
	client *Client
	topics Topics
	logger setup.Logger
}

// NewPublisher creates a publisher on a connected client. logger may be nil.
func NewPublisher(client *Client, logger setup.Logger) *Publisher {
	if logger == nil {
		logger = discardLogger{}
	}
	return &Publisher{client: client, logger: logger}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// statusPayload is the JSON shape of a status topic message.
type statusPayload struct {
	NodeID    string    `json:"node_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishState publishes one node state transition, retained so late
// subscribers see the current state. Wire it up via
// Orchestrator.SetStateListener.
func (p *Publisher) PublishState(nodeID string, state setup.State) {
	payload, err := json.Marshal(statusPayload{
		NodeID:    nodeID,
		State:     string(state),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.client.PublishRetained(p.topics.NodeStatus(nodeID), payload); err != nil {
		p.logger.Warn("publishing node status failed", "node", nodeID, "error", err)
	}
}

// Record implements setup.Recorder.
func (p *Publisher) Record(_ context.Context, result setup.Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.client.PublishEvent(p.topics.SetupResult(result.NodeID), payload); err != nil {
		p.logger.Warn("publishing setup result failed", "node", result.NodeID, "error", err)
	}
}

// QuenchDetected implements quench.EventSink.
func (p *Publisher) QuenchDetected(_ context.Context, event quench.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.client.PublishEvent(p.topics.QuenchEvent(event.CavityID), payload); err != nil {
		p.logger.Warn("publishing quench event failed", "cavity", event.CavityID, "error", err)
	}
}
