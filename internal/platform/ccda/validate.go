package ccda

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehr/cdainsight/internal/platform/xmltree"
)

// ValidationResult is the outcome of one header rule.
type ValidationResult struct {
	Rule    string `json:"rule"`
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// RequiredHeaderElements are checked for presence under the document root.
var RequiredHeaderElements = []string{
	"typeId", "templateId", "id", "code", "title",
	"effectiveTime", "confidentialityCode", "languageCode",
}

// Validate runs the structural header checks. It is not a schema validation.
func Validate(tree *xmltree.Document) []ValidationResult {
	root := FindRoot(tree)
	results := []ValidationResult{{
		Rule:    "Elemento raíz ClinicalDocument",
		Valid:   root != nil,
		Message: pick(root != nil, "Elemento raíz válido", "Falta elemento raíz ClinicalDocument"),
	}}
	if root == nil {
		return results
	}

	ns := root.Namespaces()[""]
	nsMsg := "Namespace HL7 requerido"
	if ns != "" {
		nsMsg = "Namespace: " + ns
	}
	results = append(results, ValidationResult{
		Rule:    "Namespace HL7 CDA",
		Valid:   isHL7Namespace(ns),
		Message: nsMsg,
	})

	for _, name := range RequiredHeaderElements {
		found := root.FirstMatch(name) != nil
		results = append(results, ValidationResult{
			Rule:    "Elemento " + name,
			Valid:   found,
			Message: pick(found, name+" presente", name+" faltante"),
		})
	}

	hasPatient := root.FirstPath("recordTarget", "patient") != nil
	results = append(results, ValidationResult{
		Rule:    "Información del paciente",
		Valid:   hasPatient,
		Message: pick(hasPatient, "Paciente identificado", "Información del paciente faltante"),
	})

	hasAuthor := root.FirstMatch("author") != nil
	results = append(results, ValidationResult{
		Rule:    "Información del autor",
		Valid:   hasAuthor,
		Message: pick(hasAuthor, "Autor identificado", "Información del autor faltante"),
	})

	return results
}

// AllValid reports whether every result passed.
func AllValid(results []ValidationResult) bool {
	for _, r := range results {
		if !r.Valid {
			return false
		}
	}
	return true
}

func isHL7Namespace(ns string) bool {
	return ns == NamespaceHL7 || strings.Contains(ns, "hl7.org") || strings.Contains(ns, "hl7-org")
}

func pick(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// StructureStats summarises the raw element tree.
type StructureStats struct {
	TotalElements int      `json:"totalElements"`
	Sections      int      `json:"sections"`
	Entries       int      `json:"entries"`
	Observations  int      `json:"observations"`
	Procedures    int      `json:"procedures"`
	Medications   int      `json:"medications"`
	Depth         int      `json:"depth"`
	Namespaces    []string `json:"namespaces"`
}

// Inspect counts elements of interest across the whole tree.
func Inspect(tree *xmltree.Document) StructureStats {
	stats := StructureStats{Namespaces: []string{}}
	if tree == nil || tree.Root == nil {
		return stats
	}

	tree.Root.Walk(func(el *xmltree.Element) bool {
		stats.TotalElements++
		if d := el.Depth(); d > stats.Depth {
			stats.Depth = d
		}
		switch el.Name {
		case "section":
			stats.Sections++
		case "entry":
			stats.Entries++
		case "observation":
			stats.Observations++
		case "procedure":
			stats.Procedures++
		case "substanceAdministration":
			stats.Medications++
		}
		return true
	})

	decls := tree.Root.Namespaces()
	prefixes := make([]string, 0, len(decls))
	for p := range decls {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		attr := "xmlns"
		if p != "" {
			attr = "xmlns:" + p
		}
		stats.Namespaces = append(stats.Namespaces, fmt.Sprintf("%s: %s", attr, decls[p]))
	}
	return stats
}
