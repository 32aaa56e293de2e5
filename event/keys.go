package event

import "strings"

// SampleKey builds the dedup key for a sample-driven event:
// "<type>-<device>-<port>-<transformation>".
func SampleKey(t Type, device, port, transformation string) string {
	return joinKey(string(t), device, port, transformation)
}

// AggregateKey builds the dedup key for an aggregation event:
// "<type>-<entity>-<method>".
func AggregateKey(t Type, entity, method string) string {
	return joinKey(string(t), entity, method)
}

func joinKey(parts ...string) string {
	return strings.Join(parts, "-")
}
