package dag

// Tool-name categories used by the anomaly detectors. Membership is exact
// on the case-folded tool name; the read and send detectors additionally
// match common substrings so renamed variants still register.

// SensitiveReadTools marks tools whose output is likely sensitive local data.
var SensitiveReadTools = map[string]struct{}{
	"file_read":      {},
	"read_file":      {},
	"readfile":       {},
	"cat":            {},
	"read":           {},
	"database_query": {},
	"db_query":       {},
	"sql_query":      {},
}

// NetworkSendTools marks tools that can move data off the machine.
var NetworkSendTools = map[string]struct{}{
	"http_post":    {},
	"http_put":     {},
	"fetch":        {},
	"curl":         {},
	"request":      {},
	"email_send":   {},
	"send_email":   {},
	"webhook":      {},
	"http_request": {},
	"api_call":     {},
}

// HighRiskTools marks tools with destructive or arbitrary-execution power.
var HighRiskTools = map[string]struct{}{
	"shell_exec":    {},
	"execute":       {},
	"run_command":   {},
	"exec":          {},
	"file_delete":   {},
	"rm":            {},
	"process_spawn": {},
}

func inCategory(set map[string]struct{}, toolLower string) bool {
	_, ok := set[toolLower]
	return ok
}
