package cmd

// defaultTestQueries is the fixed set of clinical scenarios used by
// `synthesis --all` and `synthesis --ablation` when no single --query
// is given, carried over from the original Python pipeline's
// TEST_QUERIES so ablation runs stay comparable across both
// implementations.
var defaultTestQueries = []string{
	"What are the danger signs of malaria in children under 5?",
	"How do you treat severe dehydration in a child?",
	"Management of hypertension in adults",
	"What are the symptoms of tuberculosis?",
	"First aid for snake bite",
	"Danger signs in pregnancy that require immediate referral",
	"How to manage pneumonia in children",
	"Treatment of uncomplicated malaria",
	"Signs and management of severe malnutrition",
	"HIV testing and counseling guidelines",
	"Management of diabetes mellitus type 2",
	"How to assess a patient with chest pain",
	"What are the danger signs in a newborn?",
	"Snake bite first aid and antivenom treatment",
	"When should a CHW refer a patient to hospital?",
	"Dosage of amoxicillin for pneumonia in children under 5",
	"How to prevent mother to child transmission of HIV",
	"Management of severe acute malnutrition in children",
	"Treatment of uncomplicated urinary tract infection",
	"Epilepsy seizure management and first aid",
}
