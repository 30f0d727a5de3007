package models

// CopyVariables returns a deep copy of a variable bag.
// Nested maps and slices are copied; other values are shared.
func CopyVariables(variables map[string]any) map[string]any {
	if variables == nil {
		return nil
	}

	cloned := make(map[string]any, len(variables))
	for key, value := range variables {
		cloned[key] = copyValue(value)
	}

	return cloned
}

// MergeVariables writes every entry of patch into variables, allocating it when nil.
func MergeVariables(variables, patch map[string]any) map[string]any {
	if variables == nil {
		variables = make(map[string]any, len(patch))
	}

	for key, value := range patch {
		variables[key] = copyValue(value)
	}

	return variables
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CopyVariables(v)
	case []any:
		cloned := make([]any, len(v))
		for i, item := range v {
			cloned[i] = copyValue(item)
		}

		return cloned
	default:
		return v
	}
}

// CopyValue returns a deep copy of a single variable value.
func CopyValue(value any) any {
	return copyValue(value)
}
