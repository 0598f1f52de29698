package productsearch

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Product is one catalog entry.
type Product struct {
	ID            string   `yaml:"id" json:"id"`
	Category      string   `yaml:"category" json:"category"`
	Title         string   `yaml:"title" json:"title"`
	Features      []string `yaml:"features,omitempty" json:"features,omitempty"`
	Description   string   `yaml:"description" json:"description"`
	Price         float64  `yaml:"price" json:"price"`
	AverageRating float64  `yaml:"average_rating" json:"average_rating"`
}

// Document renders the product as retrieval context for the model.
func (p Product) Document() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\n", p.Category)
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	fmt.Fprintf(&b, "Features: %s\n", strings.Join(p.Features, "; "))
	fmt.Fprintf(&b, "Description: %s\n", p.Description)
	fmt.Fprintf(&b, "Price: $%.2f\n", p.Price)
	fmt.Fprintf(&b, "Average Rating: %.1f\n", p.AverageRating)
	return b.String()
}

// CatalogFile is the YAML layout of a catalog.
type CatalogFile struct {
	Products []Product `yaml:"products"`
}

// ErrInvalidCatalog is returned for a catalog that cannot be served.
var ErrInvalidCatalog = errors.New("invalid catalog")

// LoadCatalog reads the catalog at path, or the built-in catalog when path
// is empty.
func LoadCatalog(path string) ([]Product, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Entries without a title or
// description, or with a negative price or rating, are skipped; a missing or
// duplicated id is an error.
func ParseCatalog(data []byte) ([]Product, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Products))
	products := make([]Product, 0, len(file.Products))
	for i, p := range file.Products {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("%w: product %d has no id", ErrInvalidCatalog, i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate product id %q", ErrInvalidCatalog, p.ID)
		}
		seen[p.ID] = true

		if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Description) == "" {
			continue
		}
		if p.Price < 0 || p.AverageRating < 0 {
			continue
		}
		products = append(products, p)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: no usable products", ErrInvalidCatalog)
	}
	return products, nil
}

// Hit is a search result.
type Hit struct {
	Product Product
	Score   float64
}

// Field weights for scoring. A title match counts most.
const (
	titleWeight    = 3.0
	categoryWeight = 2.0
	bodyWeight     = 1.0
)

type indexed struct {
	product Product
	terms   map[string]float64
}

// Index ranks catalog entries by weighted token overlap with a query. It is
// read-only after construction and safe for concurrent use.
type Index struct {
	entries []indexed
}

// NewIndex builds an index over products.
func NewIndex(products []Product) *Index {
	idx := &Index{entries: make([]indexed, 0, len(products))}
	for _, p := range products {
		terms := map[string]float64{}
		add := func(text string, weight float64) {
			for _, tok := range tokenize(text) {
				if weight > terms[tok] {
					terms[tok] = weight
				}
			}
		}
		add(p.Description, bodyWeight)
		add(strings.Join(p.Features, " "), bodyWeight)
		add(p.Category, categoryWeight)
		add(p.Title, titleWeight)
		idx.entries = append(idx.entries, indexed{product: p, terms: terms})
	}
	return idx
}

// Len returns the number of indexed products.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Search returns up to k products that share at least one term with query,
// best first. Equal scores keep catalog order.
func (idx *Index) Search(query string, k int) []Hit {
	if k <= 0 {
		return nil
	}
	queryTerms := uniq(tokenize(query))
	if len(queryTerms) == 0 {
		return nil
	}

	var hits []Hit
	for _, e := range idx.entries {
		var score float64
		for _, t := range queryTerms {
			score += e.terms[t]
		}
		if score > 0 {
			hits = append(hits, Hit{Product: e.product, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "about": true, "any": true,
	"can": true, "do": true, "does": true, "for": true, "have": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "me": true, "my": true,
	"of": true, "on": true, "or": true, "tell": true, "the": true, "there": true,
	"this": true, "to": true, "what": true, "which": true, "with": true,
	"you": true, "your": true, "good": true, "best": true, "recommend": true,
}

// tokenize lowercases text, splits on anything that is not a letter or
// digit and drops stopwords. A trailing plural "s" is removed from words
// longer than three letters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		out = append(out, f)
	}
	return out
}

func uniq(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
