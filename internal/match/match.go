// Package match reconciles an extracted (name, address) pair against the
// known recipients and picks the most likely one.
package match

import (
	"sort"
	"strings"

	"github.com/sells-group/labelmatch/internal/recipient"
)

// Default scoring policy. Name is the dominant signal on noisy OCR input;
// address only corroborates.
const (
	DefaultNameWeight    = 0.7
	DefaultAddressWeight = 0.3
	DefaultThreshold     = 0.50
)

// Match methods reported on a Result.
const (
	MethodFuzzy          = "fuzzy"
	MethodNoName         = "no_name"
	MethodNoRecords      = "no_records"
	MethodBelowThreshold = "below_threshold"
)

// Policy holds the scoring weights and the acceptance threshold. A record is
// accepted only when its combined score is strictly above Threshold.
type Policy struct {
	NameWeight    float64 `json:"name_weight" yaml:"name_weight" mapstructure:"name_weight"`
	AddressWeight float64 `json:"address_weight" yaml:"address_weight" mapstructure:"address_weight"`
	Threshold     float64 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`

	// UsePreferredName also scores the candidate name against the record's
	// preferred full name and keeps the better of the two.
	UsePreferredName bool `json:"use_preferred_name" yaml:"use_preferred_name" mapstructure:"use_preferred_name"`
}

// DefaultPolicy returns the standard 0.7/0.3 weighting with a 0.50 threshold.
func DefaultPolicy() Policy {
	return Policy{
		NameWeight:    DefaultNameWeight,
		AddressWeight: DefaultAddressWeight,
		Threshold:     DefaultThreshold,
	}
}

// Result is the outcome of a match. Record is nil when nothing was accepted.
type Result struct {
	Record       *recipient.Record `json:"record,omitempty" yaml:"record,omitempty"`
	Score        float64           `json:"score" yaml:"score"`
	NameScore    float64           `json:"name_score" yaml:"name_score"`
	AddressScore float64           `json:"address_score" yaml:"address_score"`
	Method       string            `json:"method" yaml:"method"`
}

// Matched reports whether a record was accepted.
func (r Result) Matched() bool {
	return r.Record != nil
}

// Candidate is one scored record, used for ranking.
type Candidate struct {
	Record       recipient.Record `json:"record" yaml:"record"`
	Score        float64          `json:"score" yaml:"score"`
	NameScore    float64          `json:"name_score" yaml:"name_score"`
	AddressScore float64          `json:"address_score" yaml:"address_score"`
}

// Matcher scores records against a candidate identity.
type Matcher struct {
	policy Policy
}

// NewMatcher creates a Matcher with the given policy.
func NewMatcher(policy Policy) *Matcher {
	return &Matcher{policy: policy}
}

// Policy returns the matcher's scoring policy.
func (m *Matcher) Policy() Policy {
	return m.policy
}

// Score computes the weighted score of one record.
func (m *Matcher) Score(name, address string, rec recipient.Record) Candidate {
	name = strings.ToLower(name)
	address = strings.ToLower(address)

	nameScore := Similarity(name, strings.ToLower(rec.FirstName+" "+rec.LastName))
	if m.policy.UsePreferredName && rec.PreferredFullName != "" {
		if s := Similarity(name, strings.ToLower(rec.PreferredFullName)); s > nameScore {
			nameScore = s
		}
	}
	addrScore := Similarity(address, strings.ToLower(rec.Address))

	return Candidate{
		Record:       rec,
		Score:        m.policy.NameWeight*nameScore + m.policy.AddressWeight*addrScore,
		NameScore:    nameScore,
		AddressScore: addrScore,
	}
}

// best is the running maximum of a fold over the records.
type best struct {
	index int
	cand  Candidate
}

// Match returns the highest-scoring record when its score is strictly above
// the policy threshold. An empty name never matches: address alone is not
// enough evidence. Ties keep the first record seen.
func (m *Matcher) Match(name, address string, records []recipient.Record) Result {
	if strings.TrimSpace(name) == "" {
		return Result{Method: MethodNoName}
	}
	if len(records) == 0 {
		return Result{Method: MethodNoRecords}
	}

	top := fold(records, func(acc best, i int, rec recipient.Record) best {
		c := m.Score(name, address, rec)
		if acc.index < 0 || c.Score > acc.cand.Score {
			return best{index: i, cand: c}
		}
		return acc
	})

	res := Result{
		Score:        top.cand.Score,
		NameScore:    top.cand.NameScore,
		AddressScore: top.cand.AddressScore,
	}
	if top.cand.Score <= m.policy.Threshold {
		res.Method = MethodBelowThreshold
		return res
	}

	rec := records[top.index]
	res.Record = &rec
	res.Method = MethodFuzzy
	return res
}

func fold(records []recipient.Record, step func(best, int, recipient.Record) best) best {
	acc := best{index: -1}
	for i, rec := range records {
		acc = step(acc, i, rec)
	}
	return acc
}

// Rank scores every record and returns the top n in descending score order.
// Equal scores keep database order. n <= 0 returns all records.
func (m *Matcher) Rank(name, address string, records []recipient.Record, n int) []Candidate {
	if strings.TrimSpace(name) == "" || len(records) == 0 {
		return nil
	}

	out := make([]Candidate, len(records))
	for i, rec := range records {
		out[i] = m.Score(name, address, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
