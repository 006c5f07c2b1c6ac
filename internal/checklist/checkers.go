package checklist

import (
	"strings"

	"phasegate/internal/config"
)

// KeywordChecker passes when every Require term and at least one AnyOf term
// occur in the content. Matching is case-insensitive substring search.
type KeywordChecker struct {
	Require []string
	AnyOf   []string
}

func (k KeywordChecker) Check(content string) bool {
	lowered := strings.ToLower(content)
	for _, term := range k.Require {
		if !strings.Contains(lowered, strings.ToLower(term)) {
			return false
		}
	}
	if len(k.AnyOf) == 0 {
		return true
	}
	for _, term := range k.AnyOf {
		if strings.Contains(lowered, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// LineChecker passes when the content has at least Min lines.
type LineChecker struct {
	Min int
}

func (l LineChecker) Check(content string) bool {
	return len(strings.Split(content, "\n")) >= l.Min
}

// AllOf passes when every wrapped checker passes.
type AllOf []Checker

func (a AllOf) Check(content string) bool {
	for _, c := range a {
		if !c.Check(content) {
			return false
		}
	}
	return true
}

func checkerFor(cc config.CheckConfig) Checker {
	var all AllOf
	if len(cc.Require) > 0 || len(cc.AnyOf) > 0 {
		all = append(all, KeywordChecker{Require: cc.Require, AnyOf: cc.AnyOf})
	}
	if cc.MinLines > 0 {
		all = append(all, LineChecker{Min: cc.MinLines})
	}
	if len(all) == 1 {
		return all[0]
	}
	return all
}
