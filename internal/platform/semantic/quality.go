package semantic

import (
	"math"

	"github.com/ehr/cdainsight/internal/platform/ccda"
)

// QualityMetrics are integer scores in [0,100]. Consistency is the mean of
// the other three, not an independent measurement.
type QualityMetrics struct {
	Completeness        int `json:"completeness"`
	Consistency         int `json:"consistency"`
	StandardsCompliance int `json:"standardsCompliance"`
	DataRichness        int `json:"dataRichness"`
}

// Quality scores doc. A nil document scores zero everywhere.
func Quality(doc *ccda.ClinicalDocument) QualityMetrics {
	if doc == nil {
		return QualityMetrics{}
	}
	completeness := completeness(doc)
	compliance := standardsCompliance(doc)
	richness := dataRichness(doc)
	consistency := (completeness + compliance + richness) / 3

	return QualityMetrics{
		Completeness:        round(completeness),
		Consistency:         round(consistency),
		StandardsCompliance: round(compliance),
		DataRichness:        round(richness),
	}
}

// completeness counts populated header fields; empty repeated fields count
// as absent.
func completeness(doc *ccda.ClinicalDocument) float64 {
	present := []bool{
		doc.ID != nil,
		doc.Code != nil,
		doc.Title != "",
		doc.EffectiveTime != nil,
		len(doc.RecordTargets) > 0,
		len(doc.Authors) > 0,
	}
	n := 0
	for _, ok := range present {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(present)) * 100
}

func standardsCompliance(doc *ccda.ClinicalDocument) float64 {
	score := 0.0
	if doc.TypeID != nil && doc.TypeID.Root == ccda.OIDCDATypeID {
		score += 25
	}
	if len(doc.TemplateIDs) > 0 {
		score += 25
	}
	if len(doc.RecordTargets) > 0 && doc.RecordTargets[0].PatientRole.Patient != nil {
		score += 25
	}
	if doc.StructuredBody() != nil {
		score += 25
	}
	return score
}

// dataRichness is the share of coded entries among the direct entries of
// top-level sections.
func dataRichness(doc *ccda.ClinicalDocument) float64 {
	total, coded := 0, 0
	for _, s := range doc.Sections() {
		total += len(s.Entries)
		for i := range s.Entries {
			e := &s.Entries[i]
			if (e.Observation != nil && e.Observation.Code != nil) ||
				(e.Procedure != nil && e.Procedure.Code != nil) ||
				e.SubstanceAdministration.MaterialCode() != nil {
				coded++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(coded) / float64(total) * 100
}

// round rounds half up.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}
