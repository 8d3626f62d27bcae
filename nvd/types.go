package nvd

import "encoding/json"

type Entry struct {
	ResultsPerPage  int               `json:"resultsPerPage"`
	StartIndex      int               `json:"startIndex"`
	TotalResults    int               `json:"totalResults"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

type Item struct {
	Cve Cve `json:"cve"`
}

type Cve struct {
	ID           string        `json:"id"`
	Published    string        `json:"published"`
	LastModified string        `json:"lastModified"`
	Descriptions []Description `json:"descriptions"`
	Metrics      Metrics       `json:"metrics"`
}

type Description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Metrics struct {
	CvssMetricV31 []CvssMetric `json:"cvssMetricV31"`
	CvssMetricV30 []CvssMetric `json:"cvssMetricV30"`
	CvssMetricV2  []CvssMetric `json:"cvssMetricV2"`
}

type CvssMetric struct {
	Source       string   `json:"source"`
	Type         string   `json:"type"`
	CvssData     CvssData `json:"cvssData"`
	BaseSeverity string   `json:"baseSeverity"` // v2 only
}

type CvssData struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

func (c Cve) englishDescription() string {
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			return d.Value
		}
	}
	return ""
}

// primary prefers CVSS v3.1, then v3.0, then v2.
func (m Metrics) primary() (CvssMetric, bool) {
	for _, metrics := range [][]CvssMetric{m.CvssMetricV31, m.CvssMetricV30, m.CvssMetricV2} {
		if len(metrics) > 0 {
			return metrics[0], true
		}
	}
	return CvssMetric{}, false
}
