package textnorm

import "strings"

// Rule is one exact bad→good substitution applied during normalization.
type Rule struct {
	Bad  string
	Good string
}

// punctuationRules is the single substitution table. At any position the first
// matching entry wins, so longer keys that share a prefix must come first.
var punctuationRules = []Rule{
	{Bad: "？！」", Good: "！？"},
	{Bad: "．．．", Good: "・・・"},
	{Bad: "...", Good: "・・・"},
	{Bad: "？！", Good: "！？"},
	{Bad: "？』", Good: "！？"},
	{Bad: "?!", Good: "！？"},
	{Bad: "!?", Good: "！？"},
	{Bad: "。、", Good: "、"},
	{Bad: "、。", Good: "。"},
	{Bad: "»", Good: ""},
	{Bad: "«", Good: ""},
}

var punctuationReplacer = newReplacer(punctuationRules)

func newReplacer(rules []Rule) *strings.Replacer {
	pairs := make([]string, 0, len(rules)*2)
	for _, r := range rules {
		pairs = append(pairs, r.Bad, r.Good)
	}
	return strings.NewReplacer(pairs...)
}

// Rules returns a copy of the punctuation substitution table in match-priority order.
func Rules() []Rule {
	out := make([]Rule, len(punctuationRules))
	copy(out, punctuationRules)
	return out
}
