package embeddings

// SplitBatches partitions texts into provider-sized batches, honoring
// both a per-batch item count and a per-batch character budget. A single
// oversized text still gets its own batch so it is never silently
// dropped.
func SplitBatches(texts []string, maxCount, maxChars int) [][]string {
	if maxCount <= 0 {
		maxCount = 1
	}
	var batches [][]string
	var current []string
	chars := 0

	for _, t := range texts {
		overCount := len(current) >= maxCount
		overChars := maxChars > 0 && len(current) > 0 && chars+len(t) > maxChars
		if overCount || overChars {
			batches = append(batches, current)
			current = nil
			chars = 0
		}
		current = append(current, t)
		chars += len(t)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
