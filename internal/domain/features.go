package domain

import (
	"math"
	"time"
)

// FieldStatus is the tri-state of a single feature value. A field is either
// present with a finite value, absent (never computed), or invalid (computed
// but known-bad, e.g. a division by zero upstream). Detectors branch on the
// status instead of comparing against NaN sentinels.
type FieldStatus int

const (
	FieldAbsent FieldStatus = iota
	FieldValid
	FieldInvalid
)

// Field is one optional numeric feature.
type Field struct {
	Value  float64
	Status FieldStatus
}

// ValidField wraps v, demoting non-finite values to invalid.
func ValidField(v float64) Field {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Field{Status: FieldInvalid}
	}
	return Field{Value: v, Status: FieldValid}
}

// AbsentField marks a feature that was never computed.
func AbsentField() Field {
	return Field{Status: FieldAbsent}
}

// InvalidField marks a feature that was computed but is unusable.
func InvalidField() Field {
	return Field{Status: FieldInvalid}
}

// Valid reports whether the field holds a usable value.
func (f Field) Valid() bool { return f.Status == FieldValid }

// Or returns the field value, or def when the field is absent or invalid.
func (f Field) Or(def float64) float64 {
	if f.Valid() {
		return f.Value
	}
	return def
}

// FeatureSnapshot is the per-symbol input every pipeline stage consumes.
// It is rebuilt on every tick and never persisted.
type FeatureSnapshot struct {
	PriceChange1dPct Field
	PriceChange5dPct Field
	VolumeRatio      Field
	VolatilityPct    Field
	SectorRelative1d Field
}

// Headline is one news item from the news collaborator.
type Headline struct {
	Title     string
	Link      string
	Published time.Time
	Summary   string
}

// Clip01 clamps x to [0,1].
func Clip01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Round3 rounds to three decimal places, the precision used for persisted
// scores and threshold comparisons.
func Round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
