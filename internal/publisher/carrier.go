package publisher

// AttributeCarrier adapts a string map to propagation.TextMapCarrier so
// trace context can ride along with message attributes or headers.
type AttributeCarrier map[string]string

// Get returns the value for key.
func (c AttributeCarrier) Get(key string) string {
	return c[key]
}

// Set stores value under key.
func (c AttributeCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the carried keys.
func (c AttributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
