// Package render writes answers and history as plain text for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vietddude/squai/internal/core/domain"
)

// Answer writes the split decision, answer, references and execution info.
func Answer(w io.Writer, ans domain.Answer) error {
	p := &printer{w: w}

	p.printf("Should split: %t\n", ans.Split.ShouldSplit)
	p.subQuestions("Sub-questions:", ans.Split.SubQuestions)
	p.printf("\n== Answer ==\n%s\n", ans.Result.Answer)

	p.printf("\n== References ==\n")
	if len(ans.Result.References) == 0 {
		p.printf("No references.\n")
	}
	for _, ref := range ans.Result.References {
		p.printf("%s %s (%s)\n", ref.CitationNumber, ref.Title, ref.DocID)
		if ref.Passage != "" {
			p.printf("    %s\n", ref.Passage)
		}
		p.printf("---\n")
	}

	d := ans.Result.DebugInfo
	p.printf("\n== Execution Info ==\n")
	p.printf("Original query: %s\n", d.OriginalQuery)
	p.printf("Was split: %t\n", d.WasSplit)
	if len(d.SubQuestions) > 0 {
		p.subQuestions("Sub-questions:", d.SubQuestions)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Questions processed\t%d\n", d.QuestionsProcessed)
	_, _ = fmt.Fprintf(tw, "Filtered docs\t%d\n", d.TotalFilteredDocs)
	_, _ = fmt.Fprintf(tw, "Texts retrieved\t%d\n", d.FullTextsRetrieved)
	_, _ = fmt.Fprintf(tw, "Citations\t%d\n", d.TotalCitations)
	if err := tw.Flush(); err != nil {
		return err
	}

	return p.err
}

// History writes entries as a table.
func History(w io.Writer, entries []*domain.HistoryEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CREATED\tSTATUS\tMODEL\tRETRIEVAL\tCITATIONS\tDURATION\tQUESTION")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			status(e),
			e.Query.Model,
			e.Query.RetrievalMethod,
			e.Citations,
			e.Duration.Round(time.Millisecond),
			truncate(e.Query.Question, 60),
		)
	}
	return tw.Flush()
}

func status(e *domain.HistoryEntry) string {
	if e.Cached {
		return string(e.Status) + " (cached)"
	}
	return string(e.Status)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) subQuestions(title string, subs []string) {
	if len(subs) == 0 {
		p.printf("%s none\n", title)
		return
	}
	p.printf("%s\n", title)
	for _, sq := range subs {
		p.printf("  - %s\n", sq)
	}
}
