package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"oqcpipe/internal/oqc"
)

// FailureReason renders the per-rule explanation appended to a FAILED verdict.
// Lines for rules without a measured value end in ". ". A measured value of
// zero is rendered as absent.
func FailureReason(rules []oqc.RuleResult) string {
	var b strings.Builder
	for _, r := range rules {
		if actual, ok := formatActual(r); ok {
			b.WriteString("\n\t\t* The " + r.Entity + " (" + actual + ") should be " + r.Operator + " " + formatNumber(r.Threshold))
			continue
		}
		b.WriteString("\n\t\t* The " + r.Entity + " should be " + r.Operator + " " + formatNumber(r.Threshold) + ". ")
	}
	return b.String()
}

// RuleLine renders a single rule without the list indentation.
func RuleLine(r oqc.RuleResult) string {
	if actual, ok := formatActual(r); ok {
		return "The " + r.Entity + " (" + actual + ") should be " + r.Operator + " " + formatNumber(r.Threshold)
	}
	return "The " + r.Entity + " should be " + r.Operator + " " + formatNumber(r.Threshold)
}

// formatActual rounds a measured value to two decimals. Integer values have
// nothing to round and print unchanged. Zero reports no value.
func formatActual(r oqc.RuleResult) (string, bool) {
	v, ok := r.Actual()
	if !ok || v == 0 {
		return "", false
	}
	if s := string(r.ActualValue); !strings.ContainsAny(s, ".eE") {
		return s, true
	}
	return formatRounded(v), true
}

// formatNumber prints n as the upstream JSON spelled it, so 10.0 stays 10.0
// and 10 stays 10. Exponent forms are normalised to decimal.
func formatNumber(n json.Number) string {
	s := string(n)
	if s == "" {
		return "None"
	}
	if !strings.ContainsAny(s, "eE") {
		return s
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return formatFloat(f)
}

// formatRounded rounds to two decimals using the shortest decimal that
// round-trips, then prints it as a float.
func formatRounded(v float64) string {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		r = math.Round(v*100) / 100
	}
	return formatFloat(r)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") && !math.IsInf(f, 0) && !math.IsNaN(f) {
		s += ".0"
	}
	return s
}
