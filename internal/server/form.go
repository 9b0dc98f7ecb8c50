package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/vietddude/squai/internal/core/domain"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>SQuAI</title></head>
<body>
<h1>SQuAI</h1>
<form method="post" action="/">
  <label>Question <input type="text" name="question" size="80" value="{{.Query.Question}}"></label>
  <fieldset>
    <legend>Settings</legend>
    <label>Model <select name="model">{{range .Models}}<option{{if eq . $.Query.Model}} selected{{end}}>{{.}}</option>{{end}}</select></label>
    <label>Retrieval Method <select name="retrieval_method">{{range .Retrievals}}<option{{if eq . $.Query.RetrievalMethod}} selected{{end}}>{{.}}</option>{{end}}</select></label>
    <label>N_VALUE <input type="number" name="n_value" min="0" max="1" step="0.01" value="{{.Query.NValue}}"></label>
    <label>TOP_K <input type="number" name="top_k" min="1" max="20" step="1" value="{{.Query.TopK}}"></label>
    <label>ALPHA <input type="number" name="alpha" min="0" max="1" step="0.01" value="{{.Query.Alpha}}"></label>
  </fieldset>
  <button type="submit">Get Answer</button>
</form>
{{with .Error}}<p role="alert">Error: {{.}}</p>{{end}}
{{with .Answer}}
<section>
  <p><strong>Should split:</strong> <code>{{.Split.ShouldSplit}}</code></p>
  <p><strong>Sub-questions:</strong></p>
  {{if .Split.SubQuestions}}<ul>{{range .Split.SubQuestions}}<li>{{.}}</li>{{end}}</ul>{{else}}<p>No sub-questions.</p>{{end}}
</section>
<section>
  <h2>Answer</h2>
  <p>{{.Result.Answer}}</p>
  <h2>References</h2>
  {{range .Result.References}}
  <article>
    <p>{{.CitationNumber}} <strong>{{.Title}}</strong> <small>{{.DocID}}</small></p>
    <p>{{.Passage}}</p>
  </article>
  <hr>
  {{end}}
</section>
<details>
  <summary>Execution Info</summary>
  {{with .Result.DebugInfo}}
  <ul>
    <li>Original query: <code>{{.OriginalQuery}}</code></li>
    <li>Was split: <code>{{.WasSplit}}</code></li>
    {{if .SubQuestions}}<li>Sub-questions:<ul>{{range .SubQuestions}}<li>{{.}}</li>{{end}}</ul></li>{{end}}
    <li>Questions processed: <code>{{.QuestionsProcessed}}</code></li>
    <li>Filtered docs: <code>{{.TotalFilteredDocs}}</code></li>
    <li>Texts retrieved: <code>{{.FullTextsRetrieved}}</code></li>
    <li>Citations: <code>{{.TotalCitations}}</code></li>
  </ul>
  {{end}}
</details>
{{end}}
</body>
</html>
`))

type pageData struct {
	Query      domain.Query
	Models     []domain.Model
	Retrievals []domain.RetrievalMethod
	Answer     *domain.Answer
	Error      string
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, pageData{Query: s.answerer.NewQuery("")})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseForm(r)
	if err != nil {
		s.renderPage(w, http.StatusBadRequest, pageData{Query: q, Error: err.Error()})
		return
	}

	out, err := s.answer(r.Context(), q)
	if err != nil {
		s.renderPage(w, statusFor(err), pageData{Query: q, Error: err.Error()})
		return
	}

	s.renderPage(w, http.StatusOK, pageData{Query: out.Query, Answer: &out.Answer})
}

// parseForm reads the submitted fields over the defaults.
func (s *Server) parseForm(r *http.Request) (domain.Query, error) {
	q := s.answerer.NewQuery("")
	if err := r.ParseForm(); err != nil {
		return q, fmt.Errorf("invalid form: %w", err)
	}

	q.Question = strings.TrimSpace(r.PostForm.Get("question"))
	if v := r.PostForm.Get("model"); v != "" {
		q.Model = domain.Model(v)
	}
	if v := r.PostForm.Get("retrieval_method"); v != "" {
		q.RetrievalMethod = domain.RetrievalMethod(v)
	}

	var err error
	if q.NValue, err = formFloat(r, "n_value", q.NValue); err != nil {
		return q, err
	}
	if q.Alpha, err = formFloat(r, "alpha", q.Alpha); err != nil {
		return q, err
	}
	if v := r.PostForm.Get("top_k"); v != "" {
		if q.TopK, err = strconv.Atoi(v); err != nil {
			return q, fmt.Errorf("%w: top_k must be an integer", domain.ErrInvalidQuery)
		}
	}
	return q, nil
}

func formFloat(r *http.Request, key string, fallback float64) (float64, error) {
	v := r.PostForm.Get(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidQuery, key)
	}
	return f, nil
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	data.Models = domain.Models
	data.Retrievals = domain.RetrievalMethods

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		s.log.Error("Failed to render page", "error", err)
	}
}
