package categorize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vulnbuilder/vuln-builder/types"
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	cweRe        = regexp.MustCompile(`CWE[- ](\d+)`)
	cweIDRe      = regexp.MustCompile(`(?i)CWE[- ]?ID\**\s*[:=]\s*\**\s*(\d+)`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// a label at the start of a line, optionally decorated with markdown
	labelRe = `(?i)^[\s>*#-]*\**\s*(?:%s)\s*\**\s*:\s*\**\s*(.*)$`

	explanationRe = regexp.MustCompile(fmt.Sprintf(labelRe, "explanation|vulnerability description"))
	vendorRe      = regexp.MustCompile(fmt.Sprintf(labelRe, "vendor"))
	causeRe       = regexp.MustCompile(fmt.Sprintf(labelRe, "cause"))
	impactRe      = regexp.MustCompile(fmt.Sprintf(labelRe, "impact"))
	anyLabelRe    = regexp.MustCompile(fmt.Sprintf(labelRe, "explanation|vulnerability description|vendor|cause|impact|cwe[- ]?id"))
)

// commentary some models append after the JSON object
const trailingExplanation = "\n\nExplanation:"

type strategy struct {
	name    string
	extract func(text, description string) (types.Categorization, bool)
}

// strategies are tried in order; the first that yields a categorization wins.
var strategies = []strategy{
	{name: "fenced-json", extract: fromFencedJSON},
	{name: "bare-json", extract: fromBareJSON},
	{name: "labeled-fields", extract: fromLabels},
}

// Parse extracts a categorization from free-form model output. It never
// fails: when no strategy matches, the sentinel is returned with ok false.
// description fills in a missing explanation for labeled output.
func Parse(text, description string) (c types.Categorization, ok bool) {
	for _, s := range strategies {
		if c, ok = s.extract(text, description); ok {
			return clean(c), true
		}
	}
	return types.Sentinel(""), false
}

func fromFencedJSON(text, _ string) (types.Categorization, bool) {
	text = cutCommentary(text)
	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		if c, ok := decodeObject([]byte(m[1])); ok {
			return c, true
		}
	}
	return types.Categorization{}, false
}

// fromBareJSON decodes from every '{' in turn, so nested braces inside string
// values and trailing prose are both tolerated.
func fromBareJSON(text, _ string) (types.Categorization, bool) {
	text = cutCommentary(text)
	for i := strings.IndexByte(text, '{'); i >= 0; {
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw); err == nil {
			if c, ok := decodeObject(raw); ok {
				return c, true
			}
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return types.Categorization{}, false
}

func cutCommentary(text string) string {
	if i := strings.Index(text, trailingExplanation); i >= 0 {
		return text[:i]
	}
	return text
}

// decodeObject accepts only objects carrying all five fields.
func decodeObject(b []byte) (types.Categorization, bool) {
	var m map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if err := d.Decode(&m); err != nil {
		return types.Categorization{}, false
	}
	var c types.Categorization
	for _, field := range types.CategorizationFields {
		v, ok := m[field]
		if !ok {
			return types.Categorization{}, false
		}
		switch vv := v.(type) {
		case nil:
		case string:
			c.SetField(field, vv)
		default:
			c.SetField(field, fmt.Sprint(vv))
		}
	}
	return c, true
}

func fromLabels(text, description string) (types.Categorization, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var c types.Categorization
	found := false

	if m := cweRe.FindStringSubmatch(text); m != nil {
		c.CWECategory, found = "CWE-"+m[1], true
	} else if m := cweIDRe.FindStringSubmatch(text); m != nil {
		c.CWECategory, found = "CWE-"+m[1], true
	}
	if v, ok := labeled(lines, vendorRe, false); ok {
		c.Vendor, found = v, true
	}
	if v, ok := labeled(lines, causeRe, true); ok {
		c.Cause, found = v, true
	}
	if v, ok := labeled(lines, impactRe, true); ok {
		c.Impact, found = v, true
	}
	if v, ok := labeled(lines, explanationRe, true); ok {
		c.Explanation, found = v, true
	}
	if !found {
		return types.Categorization{}, false
	}

	if c.CWECategory == "" {
		c.CWECategory = types.UnknownCWE
	}
	if c.Vendor == "" {
		c.Vendor = types.UnknownVendor
	}
	if c.Explanation == "" {
		c.Explanation = description
	}
	return c, true
}

// labeled returns the value of the first line matching re. A label with
// nothing after the colon takes the next non-blank line instead. With multiline,
// following lines are appended until a blank line or a line starting with an
// upper-case letter, which is taken to be the next label.
func labeled(lines []string, re *regexp.Regexp, multiline bool) (string, bool) {
	for i, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, rest := []string{m[1]}, lines[i+1:]
		if strings.TrimSpace(m[1]) == "" {
			// value starts on the next non-blank line
			for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
				rest = rest[1:]
			}
			if len(rest) == 0 || anyLabelRe.MatchString(rest[0]) {
				continue
			}
			value, rest = []string{rest[0]}, rest[1:]
		}
		for _, next := range rest {
			if !multiline || strings.TrimSpace(next) == "" || (next[0] >= 'A' && next[0] <= 'Z') {
				break
			}
			value = append(value, next)
		}
		v := strings.TrimSpace(strings.Join(value, " "))
		if v == "" {
			continue
		}
		return v, true
	}
	return "", false
}

func clean(c types.Categorization) types.Categorization {
	for _, field := range types.CategorizationFields {
		v := strings.ReplaceAll(c.Field(field), "`", "")
		v = whitespaceRe.ReplaceAllString(v, " ")
		c.SetField(field, strings.TrimSpace(v))
	}
	return c
}
