// Package mqtt connects hani-replica to an MQTT broker. It appears in
// Home Assistant as a device with runtime sensors (uptime, model,
// today's tokens, messages, threats and notifications), delivers
// heartbeat notifications on <base>/notify/<user>, and optionally
// answers questions published to <base>/ask/<user> with replies on
// <base>/reply/<user>.
//
// Connection management uses Eclipse Paho v2's [autopaho] package. On
// every (re-)connect the publisher republishes retained discovery
// configs, the "online" availability message and the ask subscription.
// A will message flips availability to "offline" on unexpected
// disconnects.
package mqtt
