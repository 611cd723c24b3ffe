package scrape

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extract applies spec to the selection. It returns the names of required
// fields that came back empty.
func extract(sel *goquery.Selection, base *url.URL, spec Spec) (Result, []string, error) {
	out := make(Result, len(spec))
	var missing []string
	for field, rule := range spec {
		raw := value(sel, rule)
		if raw == "" {
			if rule.Required {
				missing = append(missing, field)
			}
			continue
		}
		if rule.Resolve && base != nil {
			if ref, err := url.Parse(raw); err == nil {
				raw = base.ResolveReference(ref).String()
			}
		}
		if rule.Convert != nil {
			converted, err := rule.Convert(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("field %s: %w", field, err)
			}
			raw = converted
		}
		if raw == "" {
			if rule.Required {
				missing = append(missing, field)
			}
			continue
		}
		out[field] = raw
	}
	return out, missing, nil
}

func value(sel *goquery.Selection, rule Rule) string {
	target := sel
	if rule.Selector != "" {
		target = sel.Find(rule.Selector).First()
	}
	if target.Length() == 0 {
		return ""
	}
	if rule.Attr == "" {
		return strings.Join(strings.Fields(target.Text()), " ")
	}
	v, _ := target.Attr(rule.Attr)
	return strings.TrimSpace(v)
}
