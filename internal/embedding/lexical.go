package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

const (
	lexicalIdentity = "tfidf"

	wordAnalyzerName = "ctxportal_words"
	gramAnalyzerName = "ctxportal_grams"
	gramFilterName   = "ctxportal_trigram"

	wordPrefix = "w:"
	gramPrefix = "g:"
)

// Vocabulary is an immutable fitted feature space. Terms are sorted and
// IDF[i] belongs to Terms[i].
type Vocabulary struct {
	Terms       []string  `json:"terms"`
	IDF         []float64 `json:"idf"`
	Documents   int       `json:"documents"`
	MaxFeatures int       `json:"max_features"`

	index map[string]int
}

func (v *Vocabulary) buildIndex() error {
	if len(v.Terms) != len(v.IDF) {
		return fmt.Errorf("vocabulary has %d terms but %d idf weights", len(v.Terms), len(v.IDF))
	}
	v.index = make(map[string]int, len(v.Terms))
	for i, t := range v.Terms {
		if i > 0 && v.Terms[i-1] >= t {
			return fmt.Errorf("vocabulary terms not strictly sorted at %d", i)
		}
		v.index[t] = i
	}
	return nil
}

// Lexical is a TF-IDF provider over word and character trigram features.
// Fit builds a new vocabulary; Encode only transforms against it.
type Lexical struct {
	maxFeatures int
	words       analysis.Analyzer
	grams       analysis.Analyzer

	mu    sync.RWMutex
	vocab *Vocabulary
}

// NewLexical creates an unfitted provider. maxFeatures <= 0 keeps every
// term.
func NewLexical(maxFeatures int) (*Lexical, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomTokenFilter(gramFilterName, map[string]interface{}{
		"type": ngram.Name,
		"min":  3.0,
		"max":  3.0,
	}); err != nil {
		return nil, fmt.Errorf("register trigram filter: %w", err)
	}
	if err := im.AddCustomAnalyzer(wordAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, en.StopName},
	}); err != nil {
		return nil, fmt.Errorf("register word analyzer: %w", err)
	}
	if err := im.AddCustomAnalyzer(gramAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, en.StopName, gramFilterName},
	}); err != nil {
		return nil, fmt.Errorf("register gram analyzer: %w", err)
	}

	words := im.AnalyzerNamed(wordAnalyzerName)
	grams := im.AnalyzerNamed(gramAnalyzerName)
	if words == nil || grams == nil {
		return nil, fmt.Errorf("tfidf analyzers unavailable")
	}

	return &Lexical{
		maxFeatures: maxFeatures,
		words:       words,
		grams:       grams,
	}, nil
}

func (l *Lexical) Identity() string { return lexicalIdentity }

// Dimension is the fitted vocabulary size, 0 before any fit.
func (l *Lexical) Dimension() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.vocab == nil {
		return 0
	}
	return len(l.vocab.Terms)
}

// Fitted reports whether a non-empty vocabulary is installed. Fitting an
// empty corpus leaves nothing to encode against.
func (l *Lexical) Fitted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.vocab != nil && len(l.vocab.Terms) > 0
}

// Vocabulary returns the current snapshot, nil when unfitted.
func (l *Lexical) Vocabulary() *Vocabulary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.vocab
}

// Fit builds a fresh vocabulary from corpus and swaps it in. The result
// depends only on the corpus contents and order-insensitive counts.
func (l *Lexical) Fit(ctx context.Context, corpus []string) error {
	docFreq := make(map[string]int)
	totalFreq := make(map[string]int)

	for i, doc := range corpus {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for term, n := range l.features(doc) {
			docFreq[term]++
			totalFreq[term] += n
		}
	}

	terms := make([]string, 0, len(docFreq))
	for t := range docFreq {
		terms = append(terms, t)
	}
	if l.maxFeatures > 0 && len(terms) > l.maxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if totalFreq[terms[i]] != totalFreq[terms[j]] {
				return totalFreq[terms[i]] > totalFreq[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:l.maxFeatures]
	}
	sort.Strings(terms)

	n := len(corpus)
	idf := make([]float64, len(terms))
	for i, t := range terms {
		idf[i] = math.Log(float64(1+n)/float64(1+docFreq[t])) + 1
	}

	vocab := &Vocabulary{Terms: terms, IDF: idf, Documents: n, MaxFeatures: l.maxFeatures}
	if err := vocab.buildIndex(); err != nil {
		return err
	}

	l.mu.Lock()
	l.vocab = vocab
	l.mu.Unlock()
	return nil
}

// Encode returns one L2-normalised TF-IDF vector per text. Text with no
// known feature encodes to the zero vector.
func (l *Lexical) Encode(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	l.mu.RLock()
	vocab := l.vocab
	l.mu.RUnlock()
	if vocab == nil || len(vocab.Terms) == 0 {
		return nil, ErrNotFitted
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float64, len(vocab.Terms))
		for term, n := range l.features(text) {
			if idx, ok := vocab.index[term]; ok {
				vec[idx] = float64(n) * vocab.IDF[idx]
			}
		}
		normalize(vec)
		out[i] = vec
	}
	return out, nil
}

// Snapshot serializes the current vocabulary as JSON.
func (l *Lexical) Snapshot() ([]byte, error) {
	vocab := l.Vocabulary()
	if vocab == nil {
		return nil, ErrNotFitted
	}
	return json.Marshal(vocab)
}

// RestoreSnapshot installs a vocabulary produced by Snapshot.
func (l *Lexical) RestoreSnapshot(data []byte) error {
	var vocab Vocabulary
	if err := json.Unmarshal(data, &vocab); err != nil {
		return fmt.Errorf("decode vocabulary: %w", err)
	}
	if err := vocab.buildIndex(); err != nil {
		return err
	}

	l.mu.Lock()
	l.vocab = &vocab
	l.mu.Unlock()
	return nil
}

func (l *Lexical) features(text string) map[string]int {
	counts := make(map[string]int)
	if text == "" {
		return counts
	}
	data := []byte(text)
	for _, tok := range l.words.Analyze(data) {
		counts[wordPrefix+string(tok.Term)]++
	}
	for _, tok := range l.grams.Analyze(data) {
		counts[gramPrefix+string(tok.Term)]++
	}
	return counts
}

func normalize(vec []float64) {
	var sum float64
	for _, x := range vec {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
