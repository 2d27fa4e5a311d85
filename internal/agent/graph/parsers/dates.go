package parsers

import (
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/model"
)

var (
	isoDateRe    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dottedDateRe = regexp.MustCompile(`\b(\d{2})\.(\d{2})\.(\d{4})\b`)
)

// FindDate returns the last valid date in text as YYYY-MM-DD.
// Both YYYY-MM-DD and DD.MM.YYYY are recognized.
func FindDate(text string) (string, bool) {
	type hit struct {
		pos  int
		date string
	}
	var last *hit
	for _, m := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		d := text[m[2]:m[3]] + "-" + text[m[4]:m[5]] + "-" + text[m[6]:m[7]]
		if validDate(d) && (last == nil || m[0] > last.pos) {
			last = &hit{m[0], d}
		}
	}
	for _, m := range dottedDateRe.FindAllStringSubmatchIndex(text, -1) {
		d := text[m[6]:m[7]] + "-" + text[m[4]:m[5]] + "-" + text[m[2]:m[3]]
		if validDate(d) && (last == nil || m[0] > last.pos) {
			last = &hit{m[0], d}
		}
	}
	if last == nil {
		return "", false
	}
	return last.date, true
}

func validDate(d string) bool {
	_, err := time.Parse("2006-01-02", d)
	return err == nil
}

// backfillDate fills an argument-less call with the most recent date mentioned in history.
// Tools that declare parameters but none of them date-like are left alone.
func backfillDate(call *model.ToolCall, history []*schema.Message, tools []ToolSpec) {
	param := "date"
	if spec, ok := findTool(tools, call.Name); ok && len(spec.Params) > 0 {
		param = ""
		for _, p := range spec.Params {
			lp := strings.ToLower(p)
			if strings.Contains(lp, "date") || strings.Contains(lp, "day") {
				param = p
				break
			}
		}
		if param == "" {
			return
		}
	}
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m == nil || model.IsToolOrigin(m) {
			continue
		}
		if d, ok := FindDate(m.Content); ok {
			call.Arguments[param] = d
			return
		}
	}
}
