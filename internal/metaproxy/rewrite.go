package metaproxy

import (
	"bytes"
	"net"
	"strconv"
	"strings"
)

// RewriteRule replaces every occurrence of From with To.
type RewriteRule struct {
	From string
	To   string
}

// RuleSet applies a fixed list of rules in a single pass, so text produced by
// one rule is never rewritten again by another.
type RuleSet struct {
	rules    []RewriteRule
	froms    [][]byte
	replacer *strings.Replacer
}

// NewRuleSet builds a rule set. Duplicate and empty From values are dropped,
// first occurrence wins.
func NewRuleSet(rules ...RewriteRule) *RuleSet {
	s := &RuleSet{}
	seen := make(map[string]bool, len(rules))
	pairs := make([]string, 0, 2*len(rules))

	for _, rule := range rules {
		if rule.From == "" || seen[rule.From] {
			continue
		}
		seen[rule.From] = true
		s.rules = append(s.rules, rule)
		s.froms = append(s.froms, []byte(rule.From))
		pairs = append(pairs, rule.From, rule.To)
	}
	s.replacer = strings.NewReplacer(pairs...)
	return s
}

// Rules derives the rewrite rules for a debug endpoint. The browser may
// report the endpoint as the configured debug host, the loopback literal or
// localhost, either as a ws:// URL or as the ws= query parameter of a
// frontend URL. All of them are pointed at publicAuthority (host:port).
func Rules(debugHost string, debugPort int, publicAuthority string) *RuleSet {
	port := strconv.Itoa(debugPort)

	var rules []RewriteRule
	for _, alias := range []string{debugHost, "127.0.0.1", "localhost"} {
		if alias == "" {
			continue
		}
		debug := net.JoinHostPort(alias, port)
		rules = append(rules,
			RewriteRule{From: "ws://" + debug, To: "ws://" + publicAuthority},
			RewriteRule{From: "ws=" + debug, To: "ws=" + publicAuthority},
		)
	}
	return NewRuleSet(rules...)
}

// Rules returns a copy of the rules in the set.
func (s *RuleSet) Rules() []RewriteRule {
	out := make([]RewriteRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Apply rewrites body and reports how many substitutions were made. body is
// returned as is when nothing matches.
func (s *RuleSet) Apply(body []byte) ([]byte, int) {
	n := 0
	for _, from := range s.froms {
		n += bytes.Count(body, from)
	}
	if n == 0 {
		return body, 0
	}
	return []byte(s.replacer.Replace(string(body))), n
}
