package batch

import (
	"sort"
	"strings"
)

// TopN is the length of the top diagnosis and medication lists.
const TopN = 5

// counter tallies names by their exact spelling, remembering the order in
// which names first appeared.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(name string, n int) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name] += n
}

func (c *counter) top(n int) []NameCount {
	out := make([]NameCount, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, NameCount{Name: name, Count: c.counts[name]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Accumulator folds SimplifiedDocuments into Statistics. Partial
// accumulators can be combined with Merge; merging in input order yields the
// same result as adding every document to one accumulator.
type Accumulator struct {
	documents   int
	ageSum      int
	ageCount    int
	genders     map[string]int
	diagnoses   *counter
	medications *counter
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		genders:     make(map[string]int),
		diagnoses:   newCounter(),
		medications: newCounter(),
	}
}

// Add folds one document. Names repeated within the document count once,
// ignoring case; across documents names are tallied as spelled.
func (a *Accumulator) Add(doc *SimplifiedDocument) {
	if doc == nil {
		return
	}
	a.documents++

	if doc.Patient.Age != nil {
		a.ageSum += *doc.Patient.Age
		a.ageCount++
	}

	gender := doc.Patient.Gender
	if gender == "" {
		gender = GenderUnknown
	}
	a.genders[gender]++

	seen := make(map[string]bool)
	for _, d := range doc.Diagnoses {
		if key := strings.ToLower(d.Name); d.Name != "" && !seen[key] {
			seen[key] = true
			a.diagnoses.add(d.Name, 1)
		}
	}
	seen = make(map[string]bool)
	for _, m := range doc.Medications {
		if key := strings.ToLower(m.Name); m.Name != "" && !seen[key] {
			seen[key] = true
			a.medications.add(m.Name, 1)
		}
	}
}

// Merge adds other's tallies to a.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	a.documents += other.documents
	a.ageSum += other.ageSum
	a.ageCount += other.ageCount
	for g, n := range other.genders {
		a.genders[g] += n
	}
	for _, name := range other.diagnoses.order {
		a.diagnoses.add(name, other.diagnoses.counts[name])
	}
	for _, name := range other.medications.order {
		a.medications.add(name, other.medications.counts[name])
	}
}

// Statistics returns the current totals. Every processed document counts as
// one patient, matching the per-document gender tally. ProcessingTimeMs is
// left for the caller to fill in.
func (a *Accumulator) Statistics() Statistics {
	st := Statistics{
		TotalDocuments:     a.documents,
		TotalPatients:      a.documents,
		GenderDistribution: make(map[string]int, len(a.genders)),
		TopDiagnoses:       a.diagnoses.top(TopN),
		TopMedications:     a.medications.top(TopN),
	}
	if a.ageCount > 0 {
		st.AverageAge = float64(a.ageSum) / float64(a.ageCount)
	}
	for g, n := range a.genders {
		st.GenderDistribution[g] = n
	}
	return st
}

// Aggregate folds docs into batch statistics.
func Aggregate(docs []SimplifiedDocument) Statistics {
	acc := NewAccumulator()
	for i := range docs {
		acc.Add(&docs[i])
	}
	return acc.Statistics()
}
