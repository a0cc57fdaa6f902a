package dataset

// Category identifies which injection-technique partition a case belongs to.
// The set is fixed; "secure" holds the negative (not vulnerable) samples.
type Category string

const (
	CategoryClassic     Category = "classic"
	CategoryBlind       Category = "blind"
	CategoryTimeBased   Category = "time-based"
	CategoryUnion       Category = "union"
	CategoryErrorBased  Category = "error-based"
	CategorySecondOrder Category = "second-order"
	CategorySecure      Category = "secure"
)

// VulnerableCategories returns the fixed vulnerable partitions, in bank order.
func VulnerableCategories() []Category {
	return []Category{
		CategoryClassic,
		CategoryBlind,
		CategoryTimeBased,
		CategoryUnion,
		CategoryErrorBased,
		CategorySecondOrder,
	}
}

// CaseRecord is one labeled sample. Records are immutable after Load.
type CaseRecord struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Vulnerable bool     `json:"vulnerable"`
	Severity   string   `json:"severity,omitempty"`
	Language   string   `json:"language"`
	Payload    string   `json:"payload"`
	Tags       []string `json:"tags,omitempty"`
}
