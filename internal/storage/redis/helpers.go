package redis

// parseState converts an HMGET reply to a map holding only present fields
func parseState(keys []string, vals []interface{}) map[string]string {
	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if i >= len(keys) || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out
}
