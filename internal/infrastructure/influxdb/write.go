package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCavitySample records one cavity RF sample: measured amplitude and
// best-estimate detune. Non-blocking; points are batched and flushed on
// the configured interval.
func (c *Client) WriteCavitySample(cavityID string, amplitudeMV, detuneHz float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"cavity_rf",
		map[string]string{
			"cavity": cavityID,
		},
		map[string]interface{}{
			"aact_mv":   amplitudeMV,
			"detune_hz": detuneHz,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteStateTransition records one setup state transition for a node.
// State is written as a tagged string field so dashboards can plot the
// state timeline per node.
func (c *Client) WriteStateTransition(nodeID, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"setup_state",
		map[string]string{
			"node": nodeID,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteQuench records one quench event.
func (c *Client) WriteQuench(cavityID string, measuredValue float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"quench",
		map[string]string{
			"cavity": cavityID,
		},
		map[string]interface{}{
			"latch": measuredValue,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
// Tags index the point and should stay low-cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
