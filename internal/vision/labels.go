package vision

import "strings"

// ParseLabels splits detection output on commas, trims and lowercases each
// name, drops empties and removes duplicates keeping first-seen order.
func ParseLabels(output string) []string {
	parts := strings.Split(output, ",")
	labels := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, part := range parts {
		label := strings.ToLower(strings.TrimSpace(part))
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}
