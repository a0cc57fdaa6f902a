package dataset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const embeddedBankRef = "embedded:internal/dataset/cases.json"

//go:embed cases.json
var embeddedBankJSON []byte

type bankCase struct {
	ID       string   `json:"id"`
	Severity string   `json:"severity,omitempty"`
	Language string   `json:"language"`
	Payload  string   `json:"payload"`
	Tags     []string `json:"tags,omitempty"`
}

type bankEnvelope struct {
	Version    string                `json:"version,omitempty"`
	Name       string                `json:"name,omitempty"`
	Source     string                `json:"source,omitempty"`
	Partitions map[string][]bankCase `json:"partitions"`
}

// Metadata describes where a loaded bank came from.
type Metadata struct {
	Version string
	Name    string
	Source  string
	Path    string
}

// Repository holds the loaded case bank. Read-only after Load.
type Repository struct {
	meta       Metadata
	byCategory map[Category][]CaseRecord
}

// Load reads the partitioned case bank, from the embedded default when path is
// empty. Every vulnerable partition and the secure partition must be present
// and non-empty; a bad bank is a startup failure, surfaced before any case is
// dispatched.
func Load(path string) (*Repository, error) {
	meta := Metadata{Path: embeddedBankRef}
	data := embeddedBankJSON
	requested := strings.TrimSpace(path)
	if requested != "" {
		cleanPath := filepath.Clean(requested)
		loaded, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("read case bank %q: %w", cleanPath, err)
		}
		data = loaded
		meta.Path = cleanPath
	}
	return parseBank(data, meta)
}

func parseBank(data []byte, meta Metadata) (*Repository, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("case bank %q is empty", meta.Path)
	}
	var envelope bankEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("parse case bank %q: %w", meta.Path, err)
	}
	meta.Version = strings.TrimSpace(envelope.Version)
	meta.Name = strings.TrimSpace(envelope.Name)
	meta.Source = strings.TrimSpace(envelope.Source)
	if meta.Name == "" {
		meta.Name = defaultBankName(meta.Path)
	}

	required := append(VulnerableCategories(), CategorySecure)
	byCategory := make(map[Category][]CaseRecord, len(required))
	seen := map[string]bool{}
	for _, category := range required {
		raw, ok := envelope.Partitions[string(category)]
		if !ok || len(raw) == 0 {
			return nil, fmt.Errorf("case bank %q: partition %q missing or empty", meta.Path, category)
		}
		records := make([]CaseRecord, 0, len(raw))
		for _, item := range raw {
			id := strings.TrimSpace(strings.ToLower(item.ID))
			payload := strings.TrimSpace(item.Payload)
			if id == "" || payload == "" {
				return nil, fmt.Errorf("case bank %q: partition %q has a case without id or payload", meta.Path, category)
			}
			if seen[id] {
				return nil, fmt.Errorf("case bank %q: duplicate case id %q", meta.Path, id)
			}
			seen[id] = true
			records = append(records, CaseRecord{
				ID:         id,
				Category:   category,
				Vulnerable: category != CategorySecure,
				Severity:   strings.TrimSpace(strings.ToLower(item.Severity)),
				Language:   strings.TrimSpace(strings.ToLower(item.Language)),
				Payload:    payload,
				Tags:       item.Tags,
			})
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].ID < records[j].ID
		})
		byCategory[category] = records
	}
	return &Repository{meta: meta, byCategory: byCategory}, nil
}

// Metadata returns the bank provenance recorded at load time.
func (r *Repository) Metadata() Metadata {
	return r.meta
}

// Size reports total case count across all partitions.
func (r *Repository) Size() int {
	total := 0
	for _, records := range r.byCategory {
		total += len(records)
	}
	return total
}

// CategoryCount reports how many cases a partition holds.
func (r *Repository) CategoryCount(category Category) int {
	return len(r.byCategory[category])
}

// Sample returns up to n cases, 60% vulnerable and 40% secure (vulnerable
// count is floor(n*0.6)). The vulnerable subset is drawn from the filter
// categories when given, otherwise from all vulnerable partitions. Draws are
// without replacement within one call and fully determined by seed. When a
// pool holds fewer cases than requested the draw is clamped, never an error.
func (r *Repository) Sample(n int, filter []Category, seed int64) []CaseRecord {
	if n <= 0 {
		return []CaseRecord{}
	}
	vulnPool := r.vulnerablePool(filter)
	securePool := append([]CaseRecord(nil), r.byCategory[CategorySecure]...)

	vulnWant := n * 6 / 10
	secureWant := n - vulnWant

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(vulnPool), func(i, j int) {
		vulnPool[i], vulnPool[j] = vulnPool[j], vulnPool[i]
	})
	rng.Shuffle(len(securePool), func(i, j int) {
		securePool[i], securePool[j] = securePool[j], securePool[i]
	})

	vulnTake := minInt(vulnWant, len(vulnPool))
	secureTake := minInt(secureWant, len(securePool))

	out := make([]CaseRecord, 0, vulnTake+secureTake)
	out = append(out, vulnPool[:vulnTake]...)
	out = append(out, securePool[:secureTake]...)
	return out
}

func (r *Repository) vulnerablePool(filter []Category) []CaseRecord {
	wanted := map[Category]bool{}
	for _, category := range filter {
		if category == CategorySecure {
			continue
		}
		wanted[category] = true
	}
	pool := []CaseRecord{}
	for _, category := range VulnerableCategories() {
		if len(wanted) > 0 && !wanted[category] {
			continue
		}
		pool = append(pool, r.byCategory[category]...)
	}
	return pool
}

func defaultBankName(path string) string {
	if strings.HasPrefix(path, "embedded:") {
		return "embedded-default"
	}
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if strings.TrimSpace(name) == "" {
		return "case-bank"
	}
	return strings.ToLower(name)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
