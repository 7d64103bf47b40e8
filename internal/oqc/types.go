package oqc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an opaque OpenQualityChecker identifier. The API sends numbers, but
// string ids are accepted as well.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(b), err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type Project struct {
	ID   ID     `json:"id"`
	Name string `json:"projectName"`
}

type Branch struct {
	ID   ID     `json:"id"`
	Name string `json:"branchName"`
}

type Version struct {
	ID         ID     `json:"id"`
	CommitHash string `json:"hash"`
}

// QualityProfile is the verdict for one analysed version.
type QualityProfile struct {
	Result bool         `json:"result"`
	Rules  []RuleResult `json:"resultsOfRules"`
}

// RuleResult describes one evaluated quality rule. ActualValue is empty when
// the rule checks for presence of a metric rather than a measured value.
//
// Numbers are kept as the upstream spelled them so "10.0" renders as "10.0".
type RuleResult struct {
	Entity      string      `json:"entity"`
	ActualValue json.Number `json:"actualValue,omitempty"`
	Operator    string      `json:"operator"`
	Threshold   json.Number `json:"value"`
}

// HasActualValue reports whether the upstream sent a measured value.
func (r RuleResult) HasActualValue() bool {
	return r.ActualValue != ""
}

// Actual returns the measured value as a float.
func (r RuleResult) Actual() (float64, bool) {
	if !r.HasActualValue() {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(r.ActualValue), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

type projectsPage struct {
	Last    bool      `json:"last"`
	Content []Project `json:"content"`
}

type projectsResponse struct {
	Data *projectsPage `json:"data"`
}

type branchesResponse struct {
	Data []Branch `json:"data"`
}

type versionsResponse struct {
	Data []Version `json:"data"`
}

type qualityProfileResponse struct {
	Data *QualityProfile `json:"data"`
}
