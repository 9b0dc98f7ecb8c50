package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleAsk = `{
	"answer": "Transformers use *attention* [1].",
	"debug_info": {
		"original_query": "what is attention?",
		"was_split": true,
		"sub_questions": ["a?", "b?"],
		"questions_processed": 2,
		"total_filtered_docs": 40,
		"full_texts_retrieved": 5,
		"total_citations": 1,
		"timings": {"retrieval": 1.2}
	},
	"references": [
		[1, "Attention Is All You Need", "arXiv:1706.03762", "Title: Attention Is All You Need. The dominant..."]
	]
}`

func TestAskResult_Decode(t *testing.T) {
	var res AskResult
	if err := json.Unmarshal([]byte(sampleAsk), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if res.Answer != "Transformers use *attention* [1]." {
		t.Errorf("answer must be kept verbatim, got %q", res.Answer)
	}
	if !res.DebugInfo.WasSplit || res.DebugInfo.TotalFilteredDocs != 40 || len(res.DebugInfo.SubQuestions) != 2 {
		t.Errorf("unexpected debug info: %+v", res.DebugInfo)
	}
	if len(res.References) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(res.References))
	}

	ref := res.References[0]
	if ref.CitationNumber != "1" || ref.DocID != "arXiv:1706.03762" || ref.Title != "Attention Is All You Need" {
		t.Errorf("unexpected reference: %+v", ref)
	}
}

func TestReference_Decode(t *testing.T) {
	tests := []struct {
		in      string
		wantNum string
		wantErr bool
	}{
		{`["[2]", "t", "d", "p"]`, "[2]", false},
		{`[3, "t", "d", "p"]`, "3", false},
		{`[null, "t", "d", "p"]`, "", false},
		{`["1", "t", "d"]`, "", true},
		{`{"title": "t"}`, "", true},
		{`[1, {"x": 1}, "d", "p"]`, "", true},
	}

	for _, tt := range tests {
		var ref Reference
		err := json.Unmarshal([]byte(tt.in), &ref)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.in, err)
			continue
		}
		if ref.CitationNumber != tt.wantNum {
			t.Errorf("%s: expected citation %q, got %q", tt.in, tt.wantNum, ref.CitationNumber)
		}
	}
}

func TestReference_EncodeAsTuple(t *testing.T) {
	data, err := json.Marshal(Reference{CitationNumber: "1", Title: "t", DocID: "d", Passage: "p"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["1","t","d","p"]` {
		t.Errorf("unexpected encoding %s", data)
	}
}

func TestNewAskRequest_Payload(t *testing.T) {
	q := StandardDefaults().NewQuery("q")
	data, err := json.Marshal(NewAskRequest(q, SplitResult{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s := string(data)
	for _, want := range []string{
		`"question":"q"`,
		`"retrieval_method":"bm25"`,
		`"top_k":5`,
		`"should_split":false`,
		`"sub_questions":[]`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("payload %s missing %s", s, want)
		}
	}
}
