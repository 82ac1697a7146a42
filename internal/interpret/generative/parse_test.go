package generative

import (
	"errors"
	"testing"

	"github.com/tjfontaine/carelog/internal/domain"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    domain.ReadingKind
		wantErr error
	}{
		{
			name: "blood pressure",
			raw:  `{"kind":"blood_pressure","systolic":150,"diastolic":95,"pulse":80,"confidence":0.8,"interpretation":"BP 150/95 with pulse 80"}`,
			kind: domain.KindBloodPressure,
		},
		{
			name: "glucose with fences",
			raw:  "```json\n{\"kind\":\"glucose\",\"value\":160,\"meal_context\":\"after_meal\",\"confidence\":0.75}\n```",
			kind: domain.KindGlucose,
		},
		{
			name: "glucose defaults to random",
			raw:  `{"kind":"glucose","value":120,"meal_context":null,"confidence":0.7}`,
			kind: domain.KindGlucose,
		},
		{
			name: "symptom with prose",
			raw:  `Here you go: {"kind":"symptom","symptoms":["Dizziness"," weakness "],"severity":"mild","confidence":0.6} hope that helps`,
			kind: domain.KindSymptom,
		},
		{
			name: "status defaults to all",
			raw:  `{"kind":"status_query","confidence":0.9}`,
			kind: domain.KindStatusQuery,
		},
		{
			name: "help urgent",
			raw:  `{"kind":"help_request","urgent":true,"confidence":0.9}`,
			kind: domain.KindHelpRequest,
		},
		{
			name: "unrecognized forces zero confidence",
			raw:  `{"kind":"unrecognized","confidence":0.4}`,
			kind: domain.KindUnrecognized,
		},
		{name: "not json", raw: "I think this is a BP reading", wantErr: errMalformed},
		{name: "broken json", raw: `{"kind":"glucose",`, wantErr: errMalformed},
		{name: "missing confidence", raw: `{"kind":"help_request"}`, wantErr: errMalformed},
		{name: "unknown kind", raw: `{"kind":"weight","confidence":0.9}`, wantErr: errMalformed},
		{name: "bp missing diastolic", raw: `{"kind":"blood_pressure","systolic":120,"confidence":0.9}`, wantErr: errMalformed},
		{name: "empty symptoms", raw: `{"kind":"symptom","symptoms":[],"confidence":0.5}`, wantErr: errMalformed},
		{name: "confidence above one", raw: `{"kind":"help_request","confidence":1.5}`, wantErr: errOutOfRange},
		{name: "negative confidence", raw: `{"kind":"help_request","confidence":-0.1}`, wantErr: errOutOfRange},
		{name: "implausible bp", raw: `{"kind":"blood_pressure","systolic":400,"diastolic":90,"confidence":0.9}`, wantErr: errOutOfRange},
		{name: "inverted bp", raw: `{"kind":"blood_pressure","systolic":80,"diastolic":120,"confidence":0.9}`, wantErr: errOutOfRange},
		{name: "implausible glucose", raw: `{"kind":"glucose","value":5,"confidence":0.9}`, wantErr: errOutOfRange},
		{name: "bad meal context", raw: `{"kind":"glucose","value":100,"meal_context":"brunch","confidence":0.9}`, wantErr: errOutOfRange},
		{name: "bad topic", raw: `{"kind":"status_query","topic":"weight","confidence":0.9}`, wantErr: errOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReply(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseReply() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReply() error = %v", err)
			}
			if got.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.kind)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestParseReply_Fields(t *testing.T) {
	got, err := parseReply(`{"kind":"symptom","symptoms":["Dizziness"," weakness "],"severity":"mild","confidence":0.6,"interpretation":"dizzy and weak"}`)
	if err != nil {
		t.Fatalf("parseReply() error = %v", err)
	}
	if len(got.Symptom.Symptoms) != 2 || got.Symptom.Symptoms[0] != "dizziness" || got.Symptom.Symptoms[1] != "weakness" {
		t.Errorf("symptoms = %v, want [dizziness weakness]", got.Symptom.Symptoms)
	}
	if got.Symptom.Severity != domain.SeverityMild {
		t.Errorf("severity = %q, want mild", got.Symptom.Severity)
	}
	if got.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", got.Confidence)
	}
	if got.InterpretationNote != "dizzy and weak" {
		t.Errorf("note = %q", got.InterpretationNote)
	}

	got, err = parseReply(`{"kind":"glucose","value":120,"confidence":0.7}`)
	if err != nil {
		t.Fatalf("parseReply() error = %v", err)
	}
	if got.Glucose.MealContext != domain.MealRandom {
		t.Errorf("meal context = %q, want random", got.Glucose.MealContext)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{"no braces", "", false},
		{"} backwards {", "", false},
	}
	for _, tt := range tests {
		got, ok := extractJSON(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("extractJSON(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
