package gameplay

import "fmt"

// Redis key pattern helpers
//
// Key pattern: augur:{instance_name}:{entity}:{uuid}
// Channel pattern: augur:{instance_name}:{leg}

// ActivityKey returns the Redis key for an authoritative activity state hash.
// Pattern: augur:{instance_name}:activity:{activity_id}
func ActivityKey(instanceName, activityID string) string {
	return fmt.Sprintf("augur:%s:activity:%s", instanceName, activityID)
}

// ActivityIndexKey returns the Redis key for the set of stored activity ids.
// Late-joining clients walk this set to load the current authoritative collection.
// Pattern: augur:{instance_name}:activities
func ActivityIndexKey(instanceName string) string {
	return fmt.Sprintf("augur:%s:activities", instanceName)
}

// ServerCallsChannel returns the Pub/Sub channel clients use to reach the server.
// Pattern: augur:{instance_name}:server_calls
func ServerCallsChannel(instanceName string) string {
	return fmt.Sprintf("augur:%s:server_calls", instanceName)
}

// ClientCallsChannel returns the Pub/Sub channel the server uses to reach one client.
// Pattern: augur:{instance_name}:client:{client_id}:calls
func ClientCallsChannel(instanceName, clientID string) string {
	return fmt.Sprintf("augur:%s:client:%s:calls", instanceName, clientID)
}

// BroadcastChannel returns the Pub/Sub channel every client listens on.
// Authoritative deltas travel on this channel too.
// Pattern: augur:{instance_name}:broadcast
func BroadcastChannel(instanceName string) string {
	return fmt.Sprintf("augur:%s:broadcast", instanceName)
}

// ChannelPattern returns the Pub/Sub pattern matching every channel of an instance.
// Pattern: augur:{instance_name}:*
func ChannelPattern(instanceName string) string {
	return fmt.Sprintf("augur:%s:*", instanceName)
}
