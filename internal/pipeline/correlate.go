package pipeline

import "sort"

// Correlate produces one result per APP record, joining every EXTERNAL
// record whose timestamp lies within windowSeconds of the APP timestamp.
// Both window endpoints are inclusive. Inputs are expected in timestamp
// order; out-of-order inputs are sorted first (stable, so records sharing
// a timestamp keep their relative order).
func Correlate(appRecords, externalRecords []MetricRecord, windowSeconds int) []CorrelationResult {
	results := []CorrelationResult{}
	if len(appRecords) == 0 {
		return results
	}
	apps := sortedByTimestamp(appRecords)
	externals := sortedByTimestamp(externalRecords)
	window := int64(windowSeconds)
	lo := 0
	for i := range apps {
		start := apps[i].Timestamp - window
		end := apps[i].Timestamp + window
		for lo < len(externals) && externals[lo].Timestamp < start {
			lo++
		}
		matched := []MetricRecord{}
		for j := lo; j < len(externals) && externals[j].Timestamp <= end; j++ {
			matched = append(matched, externals[j])
		}
		results = append(results, CorrelationResult{
			AppRecord:       &apps[i],
			ExternalRecords: matched,
			WindowStart:     start,
			WindowEnd:       end,
		})
	}
	return results
}

func sortedByTimestamp(records []MetricRecord) []MetricRecord {
	out := make([]MetricRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
