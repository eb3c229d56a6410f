package semantic

import "github.com/ehr/cdainsight/internal/platform/ccda"

// Fallback labels for unmapped lookups.
const (
	UnknownDocumentType = "Tipo desconocido"
	UnknownSystem       = "Sistema desconocido"
	UnknownDataType     = "Tipo desconocido"
	UnknownTemplate     = "Plantilla desconocida"
)

// Relationship types.
const (
	RelObservationCode   = "Observación-Código"
	RelPatientMedication = "Paciente-Medicamento"
)

// MaxRelationships caps the relationships reported per document.
const MaxRelationships = 10

// MaxTerminologySamples caps the sample codes kept per terminology bucket.
const MaxTerminologySamples = 5

var documentTypes = map[string]string{
	ccda.LOINCSummaryOfEpisode: "Nota de Resumen de Episodio",
	ccda.LOINCConsultNote:      "Nota de Consulta",
	ccda.LOINCDischargeSummary: "Carta de Alta",
	ccda.LOINCProgressNote:     "Informe de Progreso",
	ccda.LOINCAdvanceDirective: "Documento de Instrucciones Previas",
}

var sectionDomains = map[string]string{
	ccda.LOINCMedications:   "Farmacología",
	ccda.LOINCAllergies:     "Alergias e Intolerancias",
	ccda.LOINCProblems:      "Lista de Problemas",
	ccda.LOINCProcedures:    "Procedimientos",
	ccda.LOINCResults:       "Resultados de Laboratorio",
	ccda.LOINCVitalSigns:    "Signos Vitales",
	ccda.LOINCEncounters:    "Historia de Encuentros",
	ccda.LOINCFamilyHistory: "Historia Familiar",
	ccda.LOINCSocialHistory: "Historia Social",
}

var terminologySystems = map[string]string{
	ccda.OIDLOINC:             "LOINC",
	ccda.OIDRxNorm:            "RxNorm",
	ccda.OIDSNOMED:            "SNOMED CT",
	ccda.OIDCPT:               "CPT",
	ccda.OIDICD9CM:            "ICD-9-CM",
	ccda.OIDICD10CM:           "ICD-10-CM",
	ccda.OIDAdminGender:       "HL7 Administrative Gender",
	ccda.OIDConfidentiality:   "HL7 Confidentiality",
	ccda.OIDObsInterpretation: "HL7 Observation Interpretation",
}

var dataTypeDescriptions = map[ccda.ValueType]string{
	ccda.ValueCD:   "Datos Codificados",
	ccda.ValuePQ:   "Cantidad Física",
	ccda.ValueST:   "Cadena de Texto",
	ccda.ValueTS:   "Marca de Tiempo",
	ccda.ValueINT:  "Número Entero",
	ccda.ValueREAL: "Número Real",
	ccda.ValueED:   "Datos Encapsulados",
}

var templateNames = map[string]string{
	ccda.OIDCCDDocument:        "CCD Document",
	ccda.OIDMedicationsSection: "Medications Section",
	ccda.OIDAllergiesSection:   "Allergies Section",
	ccda.OIDProblemsSection:    "Problems Section",
	ccda.OIDProceduresSection:  "Procedures Section",
	ccda.OIDResultsSection:     "Results Section",
	ccda.OIDVitalSignsSection:  "Vital Signs Section",
}

// SystemName returns the friendly name of a code system OID.
func SystemName(oid string) string {
	if name, ok := terminologySystems[oid]; ok {
		return name
	}
	return UnknownSystem
}

// TemplateName returns the friendly name of a template OID.
func TemplateName(oid string) string {
	if name, ok := templateNames[oid]; ok {
		return name
	}
	return UnknownTemplate
}

// DomainForSection maps a LOINC section code to its clinical domain.
func DomainForSection(code string) (string, bool) {
	d, ok := sectionDomains[code]
	return d, ok
}
