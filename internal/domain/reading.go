package domain

import (
	"fmt"
)

// ReadingKind discriminates the Reading variants.
type ReadingKind string

const (
	KindBloodPressure ReadingKind = "blood_pressure"
	KindGlucose       ReadingKind = "glucose"
	KindSymptom       ReadingKind = "symptom"
	KindStatusQuery   ReadingKind = "status_query"
	KindHelpRequest   ReadingKind = "help_request"
	KindUnrecognized  ReadingKind = "unrecognized"
)

// Valid reports whether k is a known kind.
func (k ReadingKind) Valid() bool {
	switch k {
	case KindBloodPressure, KindGlucose, KindSymptom, KindStatusQuery, KindHelpRequest, KindUnrecognized:
		return true
	}
	return false
}

// InterpreterKind identifies which interpreter produced a Reading.
type InterpreterKind string

const (
	InterpreterPattern    InterpreterKind = "pattern"
	InterpreterGenerative InterpreterKind = "generative"
)

// MealContext qualifies a glucose value.
type MealContext string

const (
	MealFasting    MealContext = "fasting"
	MealBeforeMeal MealContext = "before_meal"
	MealAfterMeal  MealContext = "after_meal"
	MealRandom     MealContext = "random"
)

// Valid reports whether m is a known meal context.
func (m MealContext) Valid() bool {
	switch m {
	case MealFasting, MealBeforeMeal, MealAfterMeal, MealRandom:
		return true
	}
	return false
}

// Severity grades a symptom report.
type Severity string

const (
	SeverityUnspecified Severity = "unspecified"
	SeverityMild        Severity = "mild"
	SeverityModerate    Severity = "moderate"
	SeveritySevere      Severity = "severe"
)

// StatusTopic narrows a status query.
type StatusTopic string

const (
	TopicAll           StatusTopic = "all"
	TopicBloodPressure StatusTopic = "blood_pressure"
	TopicGlucose       StatusTopic = "glucose"
)

// Plausible physiological ranges. Values outside them are treated as
// misreads rather than readings.
const (
	MinSystolic  = 60
	MaxSystolic  = 260
	MinDiastolic = 30
	MaxDiastolic = 160
	MinPulse     = 30
	MaxPulse     = 220
	MinGlucose   = 20
	MaxGlucose   = 600
)

// BloodPressure is a blood-pressure observation in mmHg.
type BloodPressure struct {
	Systolic  int  `json:"systolic"`
	Diastolic int  `json:"diastolic"`
	Pulse     *int `json:"pulse,omitempty"`
}

// Validate checks the observation against plausible ranges.
func (b *BloodPressure) Validate() error {
	if b.Systolic < MinSystolic || b.Systolic > MaxSystolic {
		return ErrValidation("systolic", fmt.Sprintf("%d out of range", b.Systolic))
	}
	if b.Diastolic < MinDiastolic || b.Diastolic > MaxDiastolic {
		return ErrValidation("diastolic", fmt.Sprintf("%d out of range", b.Diastolic))
	}
	if b.Systolic <= b.Diastolic {
		return ErrValidation("diastolic", "must be below systolic")
	}
	if b.Pulse != nil && (*b.Pulse < MinPulse || *b.Pulse > MaxPulse) {
		return ErrValidation("pulse", fmt.Sprintf("%d out of range", *b.Pulse))
	}
	return nil
}

// Glucose is a blood glucose observation in mg/dL.
type Glucose struct {
	Value       int         `json:"value"`
	MealContext MealContext `json:"meal_context"`
}

// Validate checks the observation against plausible ranges.
func (g *Glucose) Validate() error {
	if g.Value < MinGlucose || g.Value > MaxGlucose {
		return ErrValidation("value", fmt.Sprintf("%d out of range", g.Value))
	}
	if !g.MealContext.Valid() {
		return ErrValidation("meal_context", fmt.Sprintf("unknown context %q", g.MealContext))
	}
	return nil
}

// Symptom lists reported symptoms using canonical names such as
// "headache" or "dizziness".
type Symptom struct {
	Symptoms []string `json:"symptoms"`
	Severity Severity `json:"severity"`
}

// StatusQuery asks for a summary of recorded readings.
type StatusQuery struct {
	Topic StatusTopic `json:"topic"`
}

// HelpRequest asks for usage help. Urgent marks emergency wording.
type HelpRequest struct {
	Urgent bool `json:"urgent"`
}

// Reading is a structured health observation extracted from free text. It
// is a tagged union: Kind selects which payload pointer is set.
type Reading struct {
	Kind ReadingKind `json:"kind"`

	BloodPressure *BloodPressure `json:"blood_pressure,omitempty"`
	Glucose       *Glucose       `json:"glucose,omitempty"`
	Symptom       *Symptom       `json:"symptom,omitempty"`
	StatusQuery   *StatusQuery   `json:"status_query,omitempty"`
	HelpRequest   *HelpRequest   `json:"help_request,omitempty"`

	Confidence         float64         `json:"confidence"`
	SourceText         string          `json:"source_text"`
	InterpretationNote string          `json:"interpretation_note,omitempty"`
	Interpreter        InterpreterKind `json:"interpreter"`
}

// Unrecognized returns the zero-confidence reading for text no
// interpreter could classify.
func Unrecognized(source string, by InterpreterKind, note string) Reading {
	return Reading{
		Kind:               KindUnrecognized,
		SourceText:         source,
		Interpreter:        by,
		InterpretationNote: note,
	}
}

// IsUnrecognized reports whether r carries no observation.
func (r Reading) IsUnrecognized() bool {
	return r.Kind == KindUnrecognized
}

// Validate enforces that exactly the payload selected by Kind is set and
// that the confidence is coherent with the kind.
func (r Reading) Validate() error {
	if !r.Kind.Valid() {
		return ErrValidation("kind", fmt.Sprintf("unknown kind %q", r.Kind))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrValidation("confidence", fmt.Sprintf("%v outside [0,1]", r.Confidence))
	}

	set := 0
	for _, p := range []bool{
		r.BloodPressure != nil,
		r.Glucose != nil,
		r.Symptom != nil,
		r.StatusQuery != nil,
		r.HelpRequest != nil,
	} {
		if p {
			set++
		}
	}

	switch r.Kind {
	case KindUnrecognized:
		if set != 0 {
			return ErrValidation("kind", "unrecognized reading carries a payload")
		}
		if r.Confidence != 0 {
			return ErrValidation("confidence", "unrecognized reading must have zero confidence")
		}
		return nil
	case KindBloodPressure:
		if r.BloodPressure == nil {
			return ErrValidation("blood_pressure", "missing payload")
		}
		if err := r.BloodPressure.Validate(); err != nil {
			return err
		}
	case KindGlucose:
		if r.Glucose == nil {
			return ErrValidation("glucose", "missing payload")
		}
		if err := r.Glucose.Validate(); err != nil {
			return err
		}
	case KindSymptom:
		if r.Symptom == nil || len(r.Symptom.Symptoms) == 0 {
			return ErrValidation("symptom", "missing payload")
		}
	case KindStatusQuery:
		if r.StatusQuery == nil {
			return ErrValidation("status_query", "missing payload")
		}
	case KindHelpRequest:
		if r.HelpRequest == nil {
			return ErrValidation("help_request", "missing payload")
		}
	}
	if set != 1 {
		return ErrValidation("kind", "reading must carry exactly one payload")
	}
	return nil
}
