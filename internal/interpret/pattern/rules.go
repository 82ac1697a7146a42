package pattern

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/tjfontaine/carelog/internal/domain"
)

// Fixed per-group confidences, tuned to each group's observed precision.
const (
	ConfidenceBloodPressure = 0.9
	ConfidenceGlucose       = 0.85
	ConfidenceStatus        = 0.95
	ConfidenceHelp          = 0.95
	ConfidenceSymptom       = 0.7
)

// Synonym lists. Transliterated Hindi sits next to English and Devanagari
// so code-mixed messages need no language detection.
var (
	bpLabels = []string{
		"bp", "b.p", "b.p.", "blood pressure", "pressure", "bloodpressure",
		"बीपी", "रक्तचाप", "ब्लड प्रेशर",
	}
	pulseLabels = []string{
		"pulse", "pulse rate", "pr", "hr", "heart rate", "dhadkan", "nabz", "nadi",
		"धड़कन", "नाड़ी", "पल्स",
	}
	sugarLabels = []string{
		"sugar", "blood sugar", "glucose", "blood glucose", "bs", "bsl", "fbs", "ppbs", "rbs",
		"sugar level", "glucose level", "शुगर", "ग्लूकोज", "शक्कर",
	}

	fastingTerms = []string{
		"fasting", "fbs", "empty stomach", "before breakfast",
		"khali pet", "khaali pet", "khali pait", "khaali pait", "nirahar", "nihar", "nahar muh",
		"खाली पेट", "उपवास",
	}
	afterMealTerms = []string{
		"after meal", "after meals", "after food", "after eating", "after lunch", "after dinner",
		"after breakfast", "post meal", "post prandial", "postprandial", "pp", "ppbs",
		"khane ke baad", "khana khane ke baad", "khaane ke baad", "khane ke bad", "nashte ke baad",
		"खाने के बाद",
	}
	beforeMealTerms = []string{
		"before meal", "before meals", "before food", "before eating", "before lunch", "before dinner",
		"pre meal", "khane se pehle", "khane ke pehle", "khaane se pehle", "khane se pahle",
		"खाने से पहले",
	}
	randomTerms = []string{"random", "rbs", "kabhi bhi"}

	statusTerms = []string{
		"status", "my status", "summary", "report", "my report", "history", "my readings", "readings",
		"trend", "progress", "stats", "last reading", "kaisa hai", "kya haal", "haal chaal",
		"meri report", "mera status", "meri readings", "स्थिति", "रिपोर्ट",
	}
	helpTerms = []string{
		"help", "madad", "sahayata", "how to use", "how does this work", "commands", "menu",
		"kaise use", "kya kar sakte", "guide", "मदद", "सहायता",
	}
	urgentTerms = []string{
		"emergency", "urgent", "ambulance", "bachao", "jaldi madad", "बचाओ", "आपातकाल",
	}

	severeTerms   = []string{"severe", "bahut", "bahot", "tez", "extreme", "unbearable", "very bad", "बहुत", "तेज"}
	moderateTerms = []string{"moderate", "medium", "kaafi", "kafi"}
	mildTerms     = []string{"mild", "halka", "thoda", "slight", "slightly", "little", "हल्का", "थोड़ा"}

	// Negators before a symptom ("no fever", "not feeling dizzy") or,
	// in Hindi word order, after it ("bukhar nahi hai").
	leadingNegators = map[string]bool{
		"no": true, "not": true, "without": true, "never": true, "dont": true, "don't": true,
		"didnt": true, "didn't": true, "nahi": true, "nahin": true, "bina": true,
		"नहीं": true, "बिना": true,
	}
	trailingNegators = map[string]bool{
		"nahi": true, "nahin": true, "nai": true, "नहीं": true,
	}
)

// negationWindow is how many words either side of a symptom term are
// checked for a negator.
const negationWindow = 2

// symptomSynonyms maps canonical symptom names to their synonyms, in
// reporting order.
var symptomSynonyms = []struct {
	name  string
	terms []string
}{
	{"headache", []string{"headache", "head ache", "head pain", "sir dard", "sar dard", "sirdard", "sardard", "sir me dard", "sir mein dard", "सिर दर्द", "सिरदर्द"}},
	{"dizziness", []string{"dizzy", "dizziness", "giddy", "giddiness", "lightheaded", "light headed", "chakkar", "chakar", "चक्कर"}},
	{"fever", []string{"fever", "feverish", "bukhar", "bukhaar", "taap", "बुखार"}},
	{"chest_pain", []string{"chest pain", "chest tightness", "seene mein dard", "seene me dard", "sine me dard", "chhati mein dard", "chati me dard", "सीने में दर्द"}},
	{"breathlessness", []string{"breathless", "breathlessness", "short of breath", "shortness of breath", "breathing problem", "saans phool", "sans phool", "saans lene mein taklif", "सांस फूल"}},
	{"fatigue", []string{"tired", "tiredness", "fatigue", "exhausted", "weakness", "weak", "kamzori", "kamjori", "thakan", "thakaan", "थकान", "कमजोरी"}},
	{"nausea", []string{"nausea", "nauseous", "vomit", "vomiting", "ulti", "ji machal", "jee machal", "उल्टी", "मतली"}},
	{"cough", []string{"cough", "coughing", "khansi", "khaansi", "खांसी"}},
	{"body_ache", []string{"body pain", "body ache", "bodyache", "badan dard", "sharir dard", "बदन दर्द"}},
	{"swelling", []string{"swelling", "swollen", "sujan", "soojan", "सूजन"}},
	{"blurred_vision", []string{"blurred vision", "blurry vision", "dhundhla", "dhundla", "धुंधला"}},
	{"palpitations", []string{"palpitation", "palpitations", "heart racing", "ghabrahat", "घबराहट"}},
	{"numbness", []string{"numbness", "numb", "tingling", "sunn", "jhunjhuni", "सुन्न"}},
	{"excessive_thirst", []string{"excessive thirst", "very thirsty", "bahut pyaas", "pyaas", "प्यास"}},
	{"frequent_urination", []string{"frequent urination", "baar baar peshab", "peshab baar baar", "बार बार पेशाब"}},
}

type symptomConcept struct {
	name    string
	pattern *regexp.Regexp
}

var symptomConcepts = compileSymptoms()

func compileSymptoms() []symptomConcept {
	out := make([]symptomConcept, len(symptomSynonyms))
	for i, s := range symptomSynonyms {
		out[i] = symptomConcept{name: s.name, pattern: keywords(s.terms...)}
	}
	return out
}

func symptomTerms() []string {
	var terms []string
	for _, s := range symptomSynonyms {
		terms = append(terms, s.terms...)
	}
	return terms
}

const (
	unit      = `(?:\s*mm\s*hg)?`
	glucUnit  = `(?:\s*mg\s*/?\s*dl)?`
	copula    = `\s*(?:is|was|hai|tha|thi|aaya|aayi|aai|:|-|=)?\s*`
	separator = `\s*(?:/|\\|over|by|-|par)\s*`
)

var (
	bpLabelledRe = regexp.MustCompile(leftBoundary + alternation(bpLabels) + copula +
		`(\d{2,3})` + separator + `(\d{2,3})(?:\s*(?:/|,)\s*(\d{2,3}))?` + unit + rightBoundary)
	bpPairRe = regexp.MustCompile(leftBoundary +
		`(\d{2,3})\s*(?:/|\\)\s*(\d{2,3})(?:\s*(?:/|,)\s*(\d{2,3}))?` + unit + rightBoundary)
	pulseRe = regexp.MustCompile(leftBoundary + alternation(pulseLabels) + copula + `(\d{2,3})` + rightBoundary)
	bpmRe   = regexp.MustCompile(leftBoundary + `(\d{2,3})\s*bpm` + rightBoundary)

	allMealTerms = concat(fastingTerms, afterMealTerms, beforeMealTerms, randomTerms)

	glucoseLabelledRe = regexp.MustCompile(leftBoundary + alternation(sugarLabels) +
		`(?:\s+(?:level|reading|test))?` + copula + `(\d{2,3})` + glucUnit + rightBoundary)
	glucoseWithContextRe = regexp.MustCompile(leftBoundary + alternation(sugarLabels) +
		`\s+` + alternation(allMealTerms) + copula + `(\d{2,3})` + glucUnit + rightBoundary)
	glucoseValueFirstRe = regexp.MustCompile(leftBoundary + `(\d{2,3})` + glucUnit + `\s*` +
		alternation(sugarLabels) + rightBoundary)
	glucoseUnitRe = regexp.MustCompile(leftBoundary + `(\d{2,3})\s*mg\s*/?\s*dl` + rightBoundary)

	glucoseContextFirstRe = regexp.MustCompile(leftBoundary + alternation(allMealTerms) + copula +
		`(\d{2,3})` + glucUnit + rightBoundary)
	glucoseContextLastRe = regexp.MustCompile(leftBoundary + `(\d{2,3})` + glucUnit + `\s*` +
		alternation(allMealTerms) + rightBoundary)
	pulseTopicRe = keywords(pulseLabels...)

	fastingRe    = keywords(fastingTerms...)
	afterMealRe  = keywords(afterMealTerms...)
	beforeMealRe = keywords(beforeMealTerms...)

	statusRe     = keywords(statusTerms...)
	bpTopicRe    = keywords(bpLabels...)
	sugarTopicRe = keywords(sugarLabels...)

	helpRe     = keywords(concat(helpTerms, urgentTerms)...)
	urgentRe   = keywords(urgentTerms...)
	questionRe = regexp.MustCompile(`^\?+$`)

	anySymptomRe = keywords(symptomTerms()...)
	severeRe     = keywords(severeTerms...)
	moderateRe   = keywords(moderateTerms...)
	mildRe       = keywords(mildTerms...)
)

// DefaultGroups returns the rule cascade in priority order: blood
// pressure, glucose, status, help, symptom.
func DefaultGroups() []Group {
	return []Group{
		{
			Kind:       domain.KindBloodPressure,
			Confidence: ConfidenceBloodPressure,
			Rules: []Rule{
				{Name: "bp_labelled", Pattern: bpLabelledRe, Extract: extractBloodPressure},
				{Name: "bp_pair", Pattern: bpPairRe, Extract: extractBloodPressure},
			},
		},
		{
			Kind:       domain.KindGlucose,
			Confidence: ConfidenceGlucose,
			Rules: []Rule{
				{Name: "glucose_labelled", Pattern: glucoseLabelledRe, Extract: extractGlucose},
				{Name: "glucose_with_context", Pattern: glucoseWithContextRe, Extract: extractGlucose},
				{Name: "glucose_value_first", Pattern: glucoseValueFirstRe, Extract: extractGlucose},
				{Name: "glucose_unit", Pattern: glucoseUnitRe, Extract: extractGlucose},
				{Name: "glucose_context_first", Pattern: glucoseContextFirstRe, Extract: extractUnlabelledGlucose},
				{Name: "glucose_context_last", Pattern: glucoseContextLastRe, Extract: extractUnlabelledGlucose},
			},
		},
		{
			Kind:       domain.KindStatusQuery,
			Confidence: ConfidenceStatus,
			Rules: []Rule{
				{Name: "status_keyword", Pattern: statusRe, Extract: extractStatus},
			},
		},
		{
			Kind:       domain.KindHelpRequest,
			Confidence: ConfidenceHelp,
			Rules: []Rule{
				{Name: "help_keyword", Pattern: helpRe, Extract: extractHelp},
				{Name: "help_question_mark", Pattern: questionRe, Extract: extractHelp},
			},
		},
		{
			Kind:       domain.KindSymptom,
			Confidence: ConfidenceSymptom,
			Rules: []Rule{
				{Name: "symptom_keyword", Pattern: anySymptomRe, Extract: extractSymptom},
			},
		},
	}
}

func extractBloodPressure(m []string, text string) (domain.Reading, bool) {
	sys, _ := strconv.Atoi(m[1])
	dia, _ := strconv.Atoi(m[2])
	bp := &domain.BloodPressure{Systolic: sys, Diastolic: dia}

	pulse := 0
	switch {
	case len(m) > 3 && m[3] != "":
		pulse, _ = strconv.Atoi(m[3])
	default:
		if pm := pulseRe.FindStringSubmatch(text); pm != nil {
			pulse, _ = strconv.Atoi(pm[1])
		} else if pm := bpmRe.FindStringSubmatch(text); pm != nil {
			pulse, _ = strconv.Atoi(pm[1])
		}
	}
	if pulse >= domain.MinPulse && pulse <= domain.MaxPulse {
		bp.Pulse = &pulse
	}

	if err := bp.Validate(); err != nil {
		return domain.Reading{}, false
	}

	note := fmt.Sprintf("blood pressure %d/%d mmHg", sys, dia)
	if bp.Pulse != nil {
		note += fmt.Sprintf(", pulse %d", *bp.Pulse)
	}
	return domain.Reading{BloodPressure: bp, InterpretationNote: note}, true
}

func extractGlucose(m []string, text string) (domain.Reading, bool) {
	v, _ := strconv.Atoi(m[1])
	g := &domain.Glucose{Value: v, MealContext: mealContext(text)}
	if err := g.Validate(); err != nil {
		return domain.Reading{}, false
	}
	note := fmt.Sprintf("%s glucose %d mg/dL", strings.ReplaceAll(string(g.MealContext), "_", " "), v)
	return domain.Reading{Glucose: g, InterpretationNote: note}, true
}

// extractUnlabelledGlucose accepts a bare number next to a meal term,
// unless the message talks about pulse.
func extractUnlabelledGlucose(m []string, text string) (domain.Reading, bool) {
	if pulseTopicRe.MatchString(text) || bpmRe.MatchString(text) {
		return domain.Reading{}, false
	}
	return extractGlucose(m, text)
}

// mealContext resolves the glucose qualifier from the whole message.
// Fasting wins over after-meal, which wins over before-meal.
func mealContext(text string) domain.MealContext {
	switch {
	case fastingRe.MatchString(text):
		return domain.MealFasting
	case afterMealRe.MatchString(text):
		return domain.MealAfterMeal
	case beforeMealRe.MatchString(text):
		return domain.MealBeforeMeal
	default:
		return domain.MealRandom
	}
}

func extractStatus(_ []string, text string) (domain.Reading, bool) {
	topic := domain.TopicAll
	bp, sugar := bpTopicRe.MatchString(text), sugarTopicRe.MatchString(text)
	switch {
	case bp && !sugar:
		topic = domain.TopicBloodPressure
	case sugar && !bp:
		topic = domain.TopicGlucose
	}
	return domain.Reading{
		StatusQuery:        &domain.StatusQuery{Topic: topic},
		InterpretationNote: "status request",
	}, true
}

func extractHelp(_ []string, text string) (domain.Reading, bool) {
	urgent := urgentRe.MatchString(text)
	note := "help request"
	if urgent {
		note = "urgent help request"
	}
	return domain.Reading{
		HelpRequest:        &domain.HelpRequest{Urgent: urgent},
		InterpretationNote: note,
	}, true
}

func extractSymptom(_ []string, text string) (domain.Reading, bool) {
	var found []string
	for _, c := range symptomConcepts {
		if reported(c.pattern, text) {
			found = append(found, c.name)
		}
	}
	if len(found) == 0 {
		return domain.Reading{}, false
	}

	severity := domain.SeverityUnspecified
	switch {
	case severeRe.MatchString(text):
		severity = domain.SeveritySevere
	case moderateRe.MatchString(text):
		severity = domain.SeverityModerate
	case mildRe.MatchString(text):
		severity = domain.SeverityMild
	}

	return domain.Reading{
		Symptom:            &domain.Symptom{Symptoms: found, Severity: severity},
		InterpretationNote: "reported " + strings.Join(found, ", "),
	}, true
}

// reported reports whether any occurrence of a symptom term in text is
// not negated.
func reported(re *regexp.Regexp, text string) bool {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if !negated(text[:loc[0]], text[loc[1]:]) {
			return true
		}
	}
	return false
}

func negated(before, after string) bool {
	prev := strings.FieldsFunc(before, notWordRune)
	for i := len(prev) - 1; i >= 0 && i >= len(prev)-negationWindow; i-- {
		if leadingNegators[prev[i]] {
			return true
		}
	}
	next := strings.FieldsFunc(after, notWordRune)
	for i := 0; i < len(next) && i < negationWindow; i++ {
		if trailingNegators[next[i]] {
			return true
		}
	}
	return false
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsNumber(r) && r != '\''
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
