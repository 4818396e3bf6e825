package storage

// DailyUsage is the total recorded for one usage day.
type DailyUsage struct {
	Date         string `json:"date"`
	TotalSeconds int64  `json:"total_seconds"`
}

// Copy returns a shallow copy of values.
func Copy(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
