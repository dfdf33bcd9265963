// Package lexicon carries the curated high-risk danger-sign term list
// loaded into the corpus store at ingestion time.
package lexicon

import "github.com/chw-health/clinicalrag/internal/store"

// HighRiskTerms is the fixed, process-wide set of clinical danger-sign
// terms a community health worker must never be allowed to miss. Each
// is matched as a case-insensitive substring against synthesized
// answer text (never stemmed). Severity drives sort order: High
// before Medium, stable by term.
var HighRiskTerms = []store.HighRiskTerm{
	// General danger signs
	{Term: "danger sign", Category: "General", Severity: "High"},
	{Term: "danger signs", Category: "General", Severity: "High"},
	{Term: "life-threatening", Category: "General", Severity: "High"},
	{Term: "life threatening", Category: "General", Severity: "High"},
	{Term: "severe", Category: "General", Severity: "Medium"},
	// Referral indicators
	{Term: "refer immediately", Category: "Referral", Severity: "High"},
	{Term: "emergency referral", Category: "Referral", Severity: "High"},
	{Term: "refer to health facility", Category: "Referral", Severity: "Medium"},
	{Term: "refer to hospital", Category: "Referral", Severity: "High"},
	{Term: "urgent referral", Category: "Referral", Severity: "High"},
	// Neurological
	{Term: "convulsions", Category: "Neurological", Severity: "High"},
	{Term: "convulsion", Category: "Neurological", Severity: "High"},
	{Term: "unconscious", Category: "Neurological", Severity: "High"},
	{Term: "loss of consciousness", Category: "Neurological", Severity: "High"},
	{Term: "severe headache", Category: "Neurological", Severity: "Medium"},
	{Term: "altered consciousness", Category: "Neurological", Severity: "High"},
	{Term: "coma", Category: "Neurological", Severity: "High"},
	// Pediatric
	{Term: "not able to drink", Category: "Pediatric", Severity: "High"},
	{Term: "unable to drink", Category: "Pediatric", Severity: "High"},
	{Term: "not able to breastfeed", Category: "Pediatric", Severity: "High"},
	{Term: "unable to breastfeed", Category: "Pediatric", Severity: "High"},
	{Term: "severe malnutrition", Category: "Pediatric", Severity: "High"},
	// Respiratory
	{Term: "severe pneumonia", Category: "Respiratory", Severity: "High"},
	{Term: "chest indrawing", Category: "Respiratory", Severity: "High"},
	{Term: "difficulty breathing", Category: "Respiratory", Severity: "High"},
	{Term: "respiratory distress", Category: "Respiratory", Severity: "High"},
	{Term: "stridor", Category: "Respiratory", Severity: "High"},
	// Maternal
	{Term: "vaginal bleeding", Category: "Maternal", Severity: "High"},
	{Term: "fits in pregnancy", Category: "Maternal", Severity: "High"},
	{Term: "severe headache in pregnancy", Category: "Maternal", Severity: "High"},
	{Term: "blurred vision in pregnancy", Category: "Maternal", Severity: "High"},
	{Term: "eclampsia", Category: "Maternal", Severity: "High"},
	{Term: "pre-eclampsia", Category: "Maternal", Severity: "High"},
	{Term: "postpartum hemorrhage", Category: "Maternal", Severity: "High"},
	// Dehydration
	{Term: "severe dehydration", Category: "Dehydration", Severity: "High"},
	{Term: "signs of dehydration", Category: "Dehydration", Severity: "Medium"},
	// Hematologic
	{Term: "severe anaemia", Category: "Hematologic", Severity: "High"},
	{Term: "severe anemia", Category: "Hematologic", Severity: "High"},
	// Gastrointestinal
	{Term: "persistent vomiting", Category: "Gastrointestinal", Severity: "High"},
	{Term: "bloody diarrhoea", Category: "Gastrointestinal", Severity: "High"},
	{Term: "bloody diarrhea", Category: "Gastrointestinal", Severity: "High"},
	// Additional pediatric
	{Term: "not able to eat", Category: "Pediatric", Severity: "High"},
	{Term: "high fever", Category: "General", Severity: "Medium"},
	// Scope limitations
	{Term: "do not treat", Category: "Scope", Severity: "High"},
	{Term: "beyond scope", Category: "Scope", Severity: "Medium"},
	{Term: "requires specialist", Category: "Scope", Severity: "Medium"},
}
