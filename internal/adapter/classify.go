package adapter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

type statusRule struct {
	pattern *regexp.Regexp
	status  string
}

// Classifier maps free text onto a source's closed status vocabulary.
type Classifier struct {
	rules    []statusRule
	fallback string
}

// NewClassifier compiles rules case-insensitively. Rules are tried in order.
func NewClassifier(rules []ingest.StatusRule, fallback string) (*Classifier, error) {
	if fallback == "" {
		fallback = ingest.DefaultStatus
	}
	c := &Classifier{fallback: fallback}
	for i, rule := range rules {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile status_rules[%d]: %w", i, err)
		}
		c.rules = append(c.rules, statusRule{pattern: re, status: strings.TrimSpace(rule.Status)})
	}
	return c, nil
}

// Classify returns the first matching rule's status, else the fallback.
func (c *Classifier) Classify(text string) string {
	for _, rule := range c.rules {
		if rule.pattern.MatchString(text) {
			return rule.status
		}
	}
	return c.fallback
}
