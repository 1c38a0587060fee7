package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the setup service's broker traffic.
//
// Node ids contain slashes ("CM02/3"), which map naturally onto MQTT
// topic levels, so a cavity status topic looks like
// sclinac/status/CM02/3.
const (
	// TopicPrefix is the base for all setup service topics.
	TopicPrefix = "sclinac"

	// TopicPrefixSystem is the base for service lifecycle topics.
	TopicPrefixSystem = "sclinac/system"
)

// Topics provides builders for the service's MQTT topics. Using these
// helpers keeps topic naming consistent between publishers and external
// subscribers (displays, loggers).
type Topics struct{}

// NodeStatus returns the topic carrying live state transitions for one
// hierarchy node.
//
// Example: sclinac/status/CM02/3
func (Topics) NodeStatus(nodeID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, nodeID)
}

// SetupResult returns the topic carrying terminal result records for one
// hierarchy node.
//
// Example: sclinac/result/L1B
func (Topics) SetupResult(nodeID string) string {
	return fmt.Sprintf("%s/result/%s", TopicPrefix, nodeID)
}

// QuenchEvent returns the topic carrying quench events for one cavity.
//
// Example: sclinac/quench/CM02/3
func (Topics) QuenchEvent(cavityID string) string {
	return fmt.Sprintf("%s/quench/%s", TopicPrefix, cavityID)
}

// SystemStatus returns the service online/offline status topic, also used
// as the LWT topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllStatus returns the wildcard pattern matching every status topic.
func (Topics) AllStatus() string {
	return TopicPrefix + "/status/#"
}

// AllResults returns the wildcard pattern matching every result topic.
func (Topics) AllResults() string {
	return TopicPrefix + "/result/#"
}

// AllQuenches returns the wildcard pattern matching every quench topic.
func (Topics) AllQuenches() string {
	return TopicPrefix + "/quench/#"
}

// NodeFromTopic extracts the node id from a status or result topic.
// Returns "" if the topic does not match the expected shape.
func NodeFromTopic(topic string) string {
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) != 3 || parts[0] != TopicPrefix {
		return ""
	}
	switch parts[1] {
	case "status", "result", "quench":
		return parts[2]
	}
	return ""
}
