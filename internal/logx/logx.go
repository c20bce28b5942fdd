// Package logx emits structured key=value events over the standard logger.
// Pipeline events are keyed by tenant/survey/response/action/job ids so a
// single submission can be traced end to end.
package logx

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// Event logs a named event with sorted key=value fields.
func Event(name string, fields map[string]any) {
	if len(fields) == 0 {
		log.Printf("event=%s", name)
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s", name)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	log.Print(b.String())
}

// Error logs a failure event with the error message attached.
func Error(name string, err error, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["error"] = err
	Event(name, fields)
}
