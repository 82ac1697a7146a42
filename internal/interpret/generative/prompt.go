package generative

// systemPrompt is the instruction contract sent with every message. The
// reply must be a single JSON object; parseReply enforces the shape.
const systemPrompt = `You read short health messages written by patients in India, in English, Hindi (Devanagari) or Hinglish (Hindi in Latin script), and classify each one.

Reply with exactly one JSON object and nothing else:
{
  "kind": "blood_pressure" | "glucose" | "symptom" | "status_query" | "help_request" | "unrecognized",
  "systolic": integer mmHg or null,
  "diastolic": integer mmHg or null,
  "pulse": integer beats per minute or null,
  "value": integer glucose mg/dL or null,
  "meal_context": "fasting" | "before_meal" | "after_meal" | "random" or null,
  "symptoms": array of short English symptom names such as "headache", "dizziness", "fever", or [],
  "severity": "unspecified" | "mild" | "moderate" | "severe" or null,
  "topic": "all" | "blood_pressure" | "glucose" or null,
  "urgent": true if the person describes an emergency, otherwise false,
  "confidence": number between 0 and 1,
  "interpretation": one short English sentence describing what you understood
}

Rules:
- Fill only the fields that belong to the chosen kind; use null for the rest.
- "khali pet" means fasting, "khane ke baad" means after a meal, "chakkar" means dizziness.
- If the message contains no health reading, symptom, status request or help request, use "unrecognized" with confidence 0.
- Never invent numbers that are not in the message.`
