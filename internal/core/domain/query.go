package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidQuery is returned when query parameters are out of range.
var ErrInvalidQuery = errors.New("invalid query")

type Model string
type RetrievalMethod string

const (
	ModelFalcon Model = "falcon-3b-10b"
	ModelLlama  Model = "Llama 3.2"

	RetrievalBM25   RetrievalMethod = "bm25"
	RetrievalE5     RetrievalMethod = "e5"
	RetrievalHybrid RetrievalMethod = "hybrid"
)

// Models lists the models the backend accepts, default first.
var Models = []Model{ModelFalcon, ModelLlama}

// RetrievalMethods lists the retrieval methods the backend accepts, default first.
var RetrievalMethods = []RetrievalMethod{RetrievalBM25, RetrievalE5, RetrievalHybrid}

const (
	MinTopK = 1
	MaxTopK = 20
)

// Query is a question plus the retrieval-tuning parameters sent to /split and /ask.
type Query struct {
	Question        string          `json:"question"`
	Model           Model           `json:"model"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method"`
	NValue          float64         `json:"n_value"`
	TopK            int             `json:"top_k"`
	Alpha           float64         `json:"alpha"`
}

// Defaults holds the parameter values used when a caller leaves them out.
type Defaults struct {
	Model           Model           `yaml:"model"`
	RetrievalMethod RetrievalMethod `yaml:"retrieval_method"`
	NValue          *float64        `yaml:"n_value"`
	TopK            int             `yaml:"top_k"`
	Alpha           *float64        `yaml:"alpha"`
}

// StandardDefaults returns the stock parameter defaults.
func StandardDefaults() Defaults {
	n, alpha := 0.5, 0.65
	return Defaults{
		Model:           ModelFalcon,
		RetrievalMethod: RetrievalBM25,
		NValue:          &n,
		TopK:            5,
		Alpha:           &alpha,
	}
}

// Merge fills unset fields of d from base.
func (d Defaults) Merge(base Defaults) Defaults {
	if d.Model == "" {
		d.Model = base.Model
	}
	if d.RetrievalMethod == "" {
		d.RetrievalMethod = base.RetrievalMethod
	}
	if d.NValue == nil {
		d.NValue = base.NValue
	}
	if d.TopK == 0 {
		d.TopK = base.TopK
	}
	if d.Alpha == nil {
		d.Alpha = base.Alpha
	}
	return d
}

// NewQuery returns a query for question with every parameter defaulted.
// Decoding JSON over the result keeps defaults for omitted fields.
func (d Defaults) NewQuery(question string) Query {
	d = d.Merge(StandardDefaults())
	return Query{
		Question:        question,
		Model:           d.Model,
		RetrievalMethod: d.RetrievalMethod,
		NValue:          *d.NValue,
		TopK:            d.TopK,
		Alpha:           *d.Alpha,
	}
}

// Normalize trims the question and fills empty enum fields from d.
func (q Query) Normalize(d Defaults) Query {
	d = d.Merge(StandardDefaults())
	q.Question = strings.TrimSpace(q.Question)
	if q.Model == "" {
		q.Model = d.Model
	}
	if q.RetrievalMethod == "" {
		q.RetrievalMethod = d.RetrievalMethod
	}
	if q.TopK == 0 {
		q.TopK = d.TopK
	}
	return q
}

// Validate checks every parameter against the ranges the backend accepts.
func (q Query) Validate() error {
	if q.Question == "" {
		return fmt.Errorf("%w: question is empty", ErrInvalidQuery)
	}
	if !slices.Contains(Models, q.Model) {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidQuery, q.Model)
	}
	if !slices.Contains(RetrievalMethods, q.RetrievalMethod) {
		return fmt.Errorf("%w: unknown retrieval method %q", ErrInvalidQuery, q.RetrievalMethod)
	}
	if q.NValue < 0 || q.NValue > 1 {
		return fmt.Errorf("%w: n_value %v not in [0, 1]", ErrInvalidQuery, q.NValue)
	}
	if q.TopK < MinTopK || q.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k %d not in [%d, %d]", ErrInvalidQuery, q.TopK, MinTopK, MaxTopK)
	}
	if q.Alpha < 0 || q.Alpha > 1 {
		return fmt.Errorf("%w: alpha %v not in [0, 1]", ErrInvalidQuery, q.Alpha)
	}
	return nil
}
