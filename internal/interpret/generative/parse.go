package generative

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tjfontaine/carelog/internal/domain"
)

var (
	errMalformed  = errors.New("malformed model reply")
	errOutOfRange = errors.New("model reply out of range")
)

// modelReply mirrors the JSON object requested by systemPrompt. Pointers
// distinguish absent fields from zero values.
type modelReply struct {
	Kind           string   `json:"kind"`
	Systolic       *int     `json:"systolic"`
	Diastolic      *int     `json:"diastolic"`
	Pulse          *int     `json:"pulse"`
	Value          *int     `json:"value"`
	MealContext    *string  `json:"meal_context"`
	Symptoms       []string `json:"symptoms"`
	Severity       *string  `json:"severity"`
	Topic          *string  `json:"topic"`
	Urgent         bool     `json:"urgent"`
	Confidence     *float64 `json:"confidence"`
	Interpretation string   `json:"interpretation"`
}

// extractJSON returns the outermost {...} span of raw, tolerating code
// fences and prose around it.
func extractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// parseReply converts a raw model reply into a Reading. Returned errors
// wrap errMalformed or errOutOfRange.
func parseReply(raw string) (domain.Reading, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return domain.Reading{}, fmt.Errorf("%w: no JSON object", errMalformed)
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return domain.Reading{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if reply.Confidence == nil {
		return domain.Reading{}, fmt.Errorf("%w: missing confidence", errMalformed)
	}
	if *reply.Confidence < 0 || *reply.Confidence > 1 {
		return domain.Reading{}, fmt.Errorf("%w: confidence %v", errOutOfRange, *reply.Confidence)
	}

	r := domain.Reading{
		Kind:               domain.ReadingKind(strings.ToLower(strings.TrimSpace(reply.Kind))),
		Confidence:         *reply.Confidence,
		InterpretationNote: strings.TrimSpace(reply.Interpretation),
	}

	switch r.Kind {
	case domain.KindUnrecognized:
		r.Confidence = 0
		return r, nil

	case domain.KindBloodPressure:
		if reply.Systolic == nil || reply.Diastolic == nil {
			return domain.Reading{}, fmt.Errorf("%w: blood pressure without values", errMalformed)
		}
		r.BloodPressure = &domain.BloodPressure{
			Systolic:  *reply.Systolic,
			Diastolic: *reply.Diastolic,
			Pulse:     reply.Pulse,
		}

	case domain.KindGlucose:
		if reply.Value == nil {
			return domain.Reading{}, fmt.Errorf("%w: glucose without value", errMalformed)
		}
		mc := domain.MealRandom
		if reply.MealContext != nil && *reply.MealContext != "" {
			mc = domain.MealContext(*reply.MealContext)
		}
		r.Glucose = &domain.Glucose{Value: *reply.Value, MealContext: mc}

	case domain.KindSymptom:
		symptoms := make([]string, 0, len(reply.Symptoms))
		for _, s := range reply.Symptoms {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				symptoms = append(symptoms, s)
			}
		}
		if len(symptoms) == 0 {
			return domain.Reading{}, fmt.Errorf("%w: symptom without names", errMalformed)
		}
		sev := domain.SeverityUnspecified
		if reply.Severity != nil && *reply.Severity != "" {
			sev = domain.Severity(*reply.Severity)
		}
		switch sev {
		case domain.SeverityUnspecified, domain.SeverityMild, domain.SeverityModerate, domain.SeveritySevere:
		default:
			return domain.Reading{}, fmt.Errorf("%w: severity %q", errOutOfRange, sev)
		}
		r.Symptom = &domain.Symptom{Symptoms: symptoms, Severity: sev}

	case domain.KindStatusQuery:
		topic := domain.TopicAll
		if reply.Topic != nil && *reply.Topic != "" {
			topic = domain.StatusTopic(*reply.Topic)
		}
		switch topic {
		case domain.TopicAll, domain.TopicBloodPressure, domain.TopicGlucose:
		default:
			return domain.Reading{}, fmt.Errorf("%w: topic %q", errOutOfRange, topic)
		}
		r.StatusQuery = &domain.StatusQuery{Topic: topic}

	case domain.KindHelpRequest:
		r.HelpRequest = &domain.HelpRequest{Urgent: reply.Urgent}

	default:
		return domain.Reading{}, fmt.Errorf("%w: unknown kind %q", errMalformed, reply.Kind)
	}

	if err := r.Validate(); err != nil {
		return domain.Reading{}, fmt.Errorf("%w: %v", errOutOfRange, err)
	}
	return r, nil
}
