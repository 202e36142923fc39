package internal

import "fmt"

// Flatten collapses a nested payload into a single-level map whose keys are
// dotted paths, the shape the rule engine evaluates against. Arrays keep
// both the whole slice ("labels", "labels[]") and indexed entries
// ("labels[0].name").
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenValue(out, key, value)
	}
	return out
}

func flattenValue(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenValue(out, path+"."+key, child)
		}
	case []interface{}:
		out[path] = typed
		out[path+"[]"] = typed
		for i, child := range typed {
			flattenValue(out, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		out[path] = value
	}
}
