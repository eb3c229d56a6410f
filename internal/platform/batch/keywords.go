package batch

import "regexp"

type keywordName struct {
	keyword string
	name    string
}

// diagnosisKeywords are scanned for in narrative text, title and caption
// elements.
var diagnosisKeywords = []string{
	"diabetes", "diabético", "hipertension", "hipertenso", "asma",
	"pneumonia", "infection", "fracture", "cancer", "depression",
	"anxiety", "arthritis", "hipercolesterolemia", "bronchitis",
	"gastritis", "dermatitis", "nephritis",
}

// filenameDiagnoses infer diagnoses from keywords in the file name, in
// table order.
var filenameDiagnoses = []keywordName{
	{"hipertenso", "Hipertensión arterial"},
	{"diabetico", "Diabetes mellitus"},
	{"diabetes", "Diabetes mellitus tipo 2"},
	{"hipertension", "Hipertensión arterial"},
	{"asma", "Asma bronquial"},
	{"hipercolesterolemia", "Hipercolesterolemia"},
	{"anticoagulacion", "Trastorno de coagulación"},
}

var filenameMedications = []keywordName{
	{"diabetico", "Metformina"},
	{"diabetes", "Metformina"},
	{"hipertenso", "Enalapril"},
	{"hipertension", "Enalapril"},
	{"hipercolesterolemia", "Atorvastatina"},
	{"asma", "Salbutamol"},
	{"anticoagulacion", "Warfarina"},
}

// medicationDiagnoses map a medication name fragment to its most likely
// indication.
var medicationDiagnoses = []keywordName{
	{"metformina", "Diabetes mellitus tipo 2"},
	{"metformin", "Diabetes mellitus tipo 2"},
	{"enalapril", "Hipertensión arterial"},
	{"atorvastatina", "Hipercolesterolemia"},
	{"atorvastatin", "Hipercolesterolemia"},
	{"salbutamol", "Asma bronquial"},
	{"budesonida", "Asma bronquial"},
	{"budesonide", "Asma bronquial"},
	{"warfarina", "Trastorno de coagulación"},
	{"warfarin", "Trastorno de coagulación"},
}

var medicationNames = map[string]string{
	"metformina":    "Metformina",
	"metformin":     "Metformina",
	"enalapril":     "Enalapril",
	"atorvastatina": "Atorvastatina",
	"atorvastatin":  "Atorvastatina",
	"salbutamol":    "Salbutamol",
	"budesonida":    "Budesonida",
	"budesonide":    "Budesonida",
	"warfarina":     "Warfarina",
	"warfarin":      "Warfarina",
}

// medicationPatterns find drug names in lowercased narrative text: common
// drug-class suffixes, then a list of well-known drugs.
var medicationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\w+(?:cillin|mycin|prazole|statin|tide|pine|zole|pril|sartan)\b`),
	regexp.MustCompile(`\b(?:aspirin|ibuprofen|paracetamol|metformin|enalapril|atorvastatin|salbutamol|budesonida|warfarin)\b`),
}

// minTextMedicationLen drops very short regex matches.
const minTextMedicationLen = 4
