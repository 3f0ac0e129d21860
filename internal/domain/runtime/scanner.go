package runtime

import (
	"fmt"
	"regexp"
)

// Dangerous command patterns matched against every string argument.
// First-class data rather than code so new conventions can be added without
// touching the pipeline.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	regexp.MustCompile(`(?i)\bchmod\s+777\b`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`(?i)\b__import__\s*\(`),
	regexp.MustCompile(`(?i)\bos\.system\s*\(`),
	regexp.MustCompile(`(?i)\bsubprocess\b`),
	regexp.MustCompile(`(?i)curl\s+.*\|\s*(?:ba)?sh`),
	regexp.MustCompile(`(?i)wget\s+.*\|\s*(?:ba)?sh`),
	regexp.MustCompile(`(?i)>\s*/dev/sda`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\breboot\b`),
	regexp.MustCompile(`(?i)\bkillall\b`),
}

// maxScanDepth bounds the deep string walk over nested arguments.
const maxScanDepth = 10

// maxSummaryStringLen bounds string values kept in DAG param summaries.
const maxSummaryStringLen = 200

// deepStringScan collects every string value reachable in a nested
// JSON-like structure, up to maxScanDepth levels down.
func deepStringScan(obj interface{}, depth int) []string {
	if depth > maxScanDepth {
		return nil
	}
	switch v := obj.(type) {
	case string:
		return []string{v}
	case map[string]interface{}:
		var out []string
		for _, item := range v {
			out = append(out, deepStringScan(item, depth+1)...)
		}
		return out
	case []interface{}:
		var out []string
		for _, item := range v {
			out = append(out, deepStringScan(item, depth+1)...)
		}
		return out
	default:
		return nil
	}
}

// sanitizeParams produces a bounded summary of call arguments safe to keep
// in the call graph: long strings truncated, collections summarized by
// shape only.
func sanitizeParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			if len(val) > maxSummaryStringLen {
				out[k] = val[:maxSummaryStringLen] + "..."
			} else {
				out[k] = val
			}
		case bool, int, int64, float64:
			out[k] = val
		case []interface{}:
			out[k] = fmt.Sprintf("[list, len=%d]", len(val))
		case map[string]interface{}:
			keys := make([]string, 0, 5)
			for key := range val {
				if len(keys) == 5 {
					break
				}
				keys = append(keys, key)
			}
			out[k] = fmt.Sprintf("{dict, keys=%v}", keys)
		default:
			out[k] = fmt.Sprintf("%T", v)
		}
	}
	return out
}
