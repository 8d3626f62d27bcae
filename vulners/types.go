package vulners

import "encoding/json"

type searchRequest struct {
	Query  string `json:"query"`
	Skip   int    `json:"skip"`
	Size   int    `json:"size"`
	APIKey string `json:"apiKey,omitempty"`
}

type searchResponse struct {
	Result string `json:"result"`
	Data   struct {
		Search []json.RawMessage `json:"search"`
		Total  int               `json:"total"`
		Error  string            `json:"error"`
	} `json:"data"`
}

type document struct {
	ID     string    `json:"_id"`
	Source docSource `json:"_source"`
}

type docSource struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Published   string   `json:"published"`
	CVEList     []string `json:"cvelist"`
	Cvss        struct {
		Score    float64 `json:"score"`
		Severity string  `json:"severity"`
		Vector   string  `json:"vector"`
	} `json:"cvss"`
}
