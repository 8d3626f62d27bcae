package types

import "strings"

const UnknownCWE = "UNKNOWN"

type Categorization struct {
	CWECategory string `json:"cwe_category"`
	Explanation string `json:"explanation"`
	Vendor      string `json:"vendor"`
	Cause       string `json:"cause"`
	Impact      string `json:"impact"`
}

// Sentinel is the categorization used whenever extraction or a provider call
// fails. reason ends up in the explanation.
func Sentinel(reason string) Categorization {
	return Categorization{
		CWECategory: UnknownCWE,
		Explanation: reason,
		Vendor:      UnknownVendor,
	}
}

func (c Categorization) IsSentinel() bool {
	return c.CWECategory == UnknownCWE && c.Vendor == UnknownVendor && c.Cause == "" && c.Impact == ""
}

// Field returns the value of a categorization field by its JSON name.
func (c Categorization) Field(name string) string {
	switch name {
	case "cwe_category":
		return c.CWECategory
	case "explanation":
		return c.Explanation
	case "vendor":
		return c.Vendor
	case "cause":
		return c.Cause
	case "impact":
		return c.Impact
	}
	return ""
}

// SetField is the inverse of Field; unknown names are ignored.
func (c *Categorization) SetField(name, value string) {
	switch name {
	case "cwe_category":
		c.CWECategory = value
	case "explanation":
		c.Explanation = value
	case "vendor":
		c.Vendor = value
	case "cause":
		c.Cause = value
	case "impact":
		c.Impact = value
	}
}

var CategorizationFields = []string{"cwe_category", "explanation", "vendor", "cause", "impact"}

// NormalizeCWE canonicalizes "cwe 79" / "CWE_79" style ids to "CWE-79".
func NormalizeCWE(s string) string {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CWE") {
		return s
	}
	digits := strings.TrimLeft(upper[3:], " -_:")
	if digits == "" {
		return s
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return s
		}
	}
	return "CWE-" + digits
}
