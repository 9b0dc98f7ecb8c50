package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// SplitResult is the /split reply: whether the question should be decomposed
// and into what.
type SplitResult struct {
	ShouldSplit  bool     `json:"should_split"`
	SubQuestions []string `json:"sub_questions"`
}

// AskRequest is the /ask payload: the query plus the split decision.
type AskRequest struct {
	Query
	ShouldSplit  bool     `json:"should_split"`
	SubQuestions []string `json:"sub_questions"`
}

// NewAskRequest builds the /ask payload. SubQuestions is never nil so it
// serializes as [].
func NewAskRequest(q Query, split SplitResult) AskRequest {
	subs := split.SubQuestions
	if subs == nil {
		subs = []string{}
	}
	return AskRequest{Query: q, ShouldSplit: split.ShouldSplit, SubQuestions: subs}
}

// AskResult is the /ask reply.
type AskResult struct {
	Answer     string      `json:"answer"`
	DebugInfo  DebugInfo   `json:"debug_info"`
	References []Reference `json:"references"`
}

// DebugInfo carries backend execution statistics.
type DebugInfo struct {
	OriginalQuery      string   `json:"original_query"`
	WasSplit           bool     `json:"was_split"`
	SubQuestions       []string `json:"sub_questions,omitempty"`
	QuestionsProcessed int      `json:"questions_processed"`
	TotalFilteredDocs  int      `json:"total_filtered_docs"`
	FullTextsRetrieved int      `json:"full_texts_retrieved"`
	TotalCitations     int      `json:"total_citations"`
}

// Reference is one citation. On the wire it is a 4-element array:
// [citation_number, title, doc_id, passage].
type Reference struct {
	CitationNumber string
	Title          string
	DocID          string
	Passage        string
}

func (r *Reference) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	if len(parts) != 4 {
		return fmt.Errorf("reference: expected 4 elements, got %d", len(parts))
	}

	num, err := scalarString(parts[0])
	if err != nil {
		return fmt.Errorf("reference citation number: %w", err)
	}

	var fields [3]string
	for i := range fields {
		if fields[i], err = scalarString(parts[i+1]); err != nil {
			return fmt.Errorf("reference field %d: %w", i+1, err)
		}
	}

	*r = Reference{
		CitationNumber: num,
		Title:          fields[0],
		DocID:          fields[1],
		Passage:        fields[2],
	}
	return nil
}

func (r Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]string{r.CitationNumber, r.Title, r.DocID, r.Passage})
}

// scalarString accepts a JSON string, number or null.
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// Answer bundles both backend replies for one query.
type Answer struct {
	Split  SplitResult `json:"split"`
	Result AskResult   `json:"result"`
}
