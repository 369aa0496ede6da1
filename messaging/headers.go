package messaging

// MergeHeaders combines client-level static headers with per-request
// headers. Request keys win on conflict. Returns nil when neither side
// supplies anything, so the headers field is omitted from the frame
// entirely rather than sent empty. Inputs are never mutated.
func MergeHeaders(static, request map[string]interface{}) map[string]interface{} {
	if len(static) == 0 && len(request) == 0 {
		return nil
	}

	merged := make(map[string]interface{}, len(static)+len(request))
	for k, v := range static {
		merged[k] = v
	}
	for k, v := range request {
		merged[k] = v
	}
	return merged
}
