package parser

import (
	log "github.com/sirupsen/logrus"
)

// Warning records a field whose text could not be parsed and was replaced by a default.
type Warning struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Diagnostics collects the warnings of a single extraction. A nil *Diagnostics only logs.
type Diagnostics struct {
	Warnings []Warning
}

func (d *Diagnostics) warn(field, value, reason string) {
	log.WithFields(log.Fields{
		"field": field,
		"value": value,
	}).Warnf("⚠️ %s", reason)

	if d == nil {
		return
	}
	d.Warnings = append(d.Warnings, Warning{Field: field, Value: value, Reason: reason})
}
