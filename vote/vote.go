package vote

import (
	"strings"

	"github.com/vulnbuilder/vuln-builder/types"
)

const defaultWeight = 1.0

// Ballot is the categorization one provider produced for a record. Ballots
// are ordered; the order breaks ties.
type Ballot struct {
	Provider string
	Result   types.Categorization
}

// Voter combines per-provider categorizations field by field.
type Voter struct {
	weights map[string]float64
}

// New returns a voter with the given provider weights. Providers without an
// entry weigh 1.0.
func New(weights map[string]float64) *Voter {
	w := map[string]float64{}
	for name, weight := range weights {
		w[strings.ToLower(name)] = weight
	}
	return &Voter{weights: w}
}

func (v *Voter) Weight(provider string) float64 {
	if w, ok := v.weights[strings.ToLower(provider)]; ok {
		return w
	}
	return defaultWeight
}

// Combine picks the heaviest value for each field independently, so the result
// may mix fields from different providers.
func (v *Voter) Combine(ballots []Ballot) types.Categorization {
	var c types.Categorization
	for _, field := range types.CategorizationFields {
		c.SetField(field, v.Vote(field, ballots))
	}
	return c
}

// Vote returns the value of field with the highest accumulated weight. On a
// tie the value seen first wins. Without any non-empty value it returns
// "Unknown".
func (v *Voter) Vote(field string, ballots []Ballot) string {
	tally := map[string]float64{}
	var order []string
	for _, b := range ballots {
		value := strings.TrimSpace(b.Result.Field(field))
		if value == "" {
			continue
		}
		if _, ok := tally[value]; !ok {
			order = append(order, value)
		}
		tally[value] += v.Weight(b.Provider)
	}
	if len(order) == 0 {
		return types.UnknownVendor
	}

	winner := order[0]
	for _, value := range order[1:] {
		if tally[value] > tally[winner] {
			winner = value
		}
	}
	return winner
}
