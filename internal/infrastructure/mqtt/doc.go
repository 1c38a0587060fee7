// Package mqtt publishes the setup service's externally visible activity
// to an MQTT broker.
//
// Three topic families are produced under the sclinac/ prefix: retained
// per-node status (live state transitions), per-node setup results and
// per-cavity quench events. Control room displays and archival loggers
// subscribe; nothing subscribes back into the service, and all publishing
// is best-effort so broker outages never touch an invocation.
//
// The Client wraps paho.mqtt.golang with reconnection, LWT-based offline
// detection and subscription restoration.
package mqtt
