package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-ical"
)

// ParseJSON decodes a jCal (RFC 7265) document into the same component
// tree Parse produces.
func ParseJSON(data []byte) (*Document, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode jcal: %w", err)
	}
	comp, err := decodeJCalComponent(raw)
	if err != nil {
		return nil, err
	}
	return &Document{Calendar: &ical.Calendar{Component: comp}}, nil
}

// JSONRootName returns the lower-cased root component name of a jCal
// document without decoding the rest.
func JSONRootName(data []byte) (string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("failed to decode jcal: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("jcal: empty component")
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return "", fmt.Errorf("jcal: component name: %w", err)
	}
	return name, nil
}

func decodeJCalComponent(raw []json.RawMessage) (*ical.Component, error) {
	if len(raw) != 3 {
		return nil, fmt.Errorf("jcal: component must have 3 members, got %d", len(raw))
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return nil, fmt.Errorf("jcal: component name: %w", err)
	}
	comp := ical.NewComponent(strings.ToUpper(name))

	var props [][]json.RawMessage
	if err := json.Unmarshal(raw[1], &props); err != nil {
		return nil, fmt.Errorf("jcal: %s properties: %w", name, err)
	}
	for _, p := range props {
		prop, err := decodeJCalProp(p)
		if err != nil {
			return nil, err
		}
		comp.Props.Add(prop)
	}

	var children [][]json.RawMessage
	if err := json.Unmarshal(raw[2], &children); err != nil {
		return nil, fmt.Errorf("jcal: %s components: %w", name, err)
	}
	for _, c := range children {
		child, err := decodeJCalComponent(c)
		if err != nil {
			return nil, err
		}
		comp.Children = append(comp.Children, child)
	}
	return comp, nil
}

func decodeJCalProp(raw []json.RawMessage) (*ical.Prop, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("jcal: property must have at least 4 members, got %d", len(raw))
	}
	var name, typ string
	var params map[string]any
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return nil, fmt.Errorf("jcal: property name: %w", err)
	}
	if err := json.Unmarshal(raw[1], &params); err != nil {
		return nil, fmt.Errorf("jcal: %s parameters: %w", name, err)
	}
	if err := json.Unmarshal(raw[2], &typ); err != nil {
		return nil, fmt.Errorf("jcal: %s type: %w", name, err)
	}

	prop := ical.NewProp(strings.ToUpper(name))
	for k, v := range params {
		key := strings.ToUpper(k)
		switch pv := v.(type) {
		case []any:
			for _, item := range pv {
				prop.Params.Add(key, fmt.Sprint(item))
			}
		default:
			prop.Params.Set(key, fmt.Sprint(pv))
		}
	}

	typ = strings.ToLower(typ)
	switch typ {
	case "date":
		prop.Params.Set(ical.ParamValue, "DATE")
	case "period":
		prop.Params.Set(ical.ParamValue, "PERIOD")
	}

	values := make([]string, 0, len(raw)-3)
	for _, rv := range raw[3:] {
		v, err := decodeJCalValue(typ, rv)
		if err != nil {
			return nil, fmt.Errorf("jcal: %s value: %w", name, err)
		}
		values = append(values, v)
	}
	prop.Value = strings.Join(values, ",")
	return prop, nil
}

func decodeJCalValue(typ string, raw json.RawMessage) (string, error) {
	switch typ {
	case "recur":
		var rule map[string]any
		if err := json.Unmarshal(raw, &rule); err != nil {
			return "", err
		}
		return encodeRecur(rule), nil
	case "date", "date-time", "period":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		parts := strings.Split(s, "/")
		for i, part := range parts {
			parts[i] = compactDateTime(part)
		}
		return strings.Join(parts, "/"), nil
	case "utc-offset":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.ReplaceAll(s, ":", ""), nil
	case "text":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return escapeText(s), nil
	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", err
		}
		return scalar(v), nil
	}
}

// compactDateTime turns "2024-01-01T09:00:00Z" into "20240101T090000Z".
func compactDateTime(s string) string {
	if strings.HasPrefix(s, "P") || strings.HasPrefix(s, "-P") || strings.HasPrefix(s, "+P") {
		return s
	}
	return strings.NewReplacer("-", "", ":", "").Replace(s)
}

func encodeRecur(rule map[string]any) string {
	keys := make([]string, 0, len(rule))
	for k := range rule {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	if f, ok := rule["freq"]; ok {
		parts = append(parts, "FREQ="+scalar(f))
	}
	for _, k := range keys {
		if k == "freq" {
			continue
		}
		v := rule[k]
		var s string
		if list, ok := v.([]any); ok {
			items := make([]string, len(list))
			for i, item := range list {
				items[i] = scalar(item)
			}
			s = strings.Join(items, ",")
		} else {
			s = scalar(v)
		}
		if k == "until" {
			s = compactDateTime(s)
		}
		parts = append(parts, strings.ToUpper(k)+"="+s)
	}
	return strings.Join(parts, ";")
}

func scalar(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func escapeText(s string) string {
	return strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`).Replace(s)
}
