package report

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/cashflow"
)

//go:embed templates/statement.html.tmpl
var templateFS embed.FS

var statementTemplate = template.Must(template.New("statement.html.tmpl").Funcs(template.FuncMap{
	"money": func(v decimal.Decimal) string { return v.StringFixed(2) },
}).ParseFS(templateFS, "templates/statement.html.tmpl"))

// PDFRenderer converts HTML into PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// StatementRenderer exports cash-flow statements.
type StatementRenderer struct {
	pdf PDFRenderer
}

// NewStatementRenderer builds a renderer. pdf may be nil when only CSV is needed.
func NewStatementRenderer(pdf PDFRenderer) *StatementRenderer {
	return &StatementRenderer{pdf: pdf}
}

// RenderCSV writes a header block followed by one line per entry.
func (r *StatementRenderer) RenderCSV(w io.Writer, st cashflow.Statement) error {
	buf := bufio.NewWriter(w)
	out := csv.NewWriter(buf)
	out.UseCRLF = true

	meta := [][]string{
		{"account", st.Account.BankName, st.Account.Branch, st.Account.AccountNumber},
		{"period", st.From.String(), st.To.String()},
		{"opening_balance", st.Opening.StringFixed(2)},
		{},
		{"entry_id", "effective_date", "direction", "counterparty", "bank_document", "memo", "amount", "balance"},
	}
	if err := out.WriteAll(meta); err != nil {
		return err
	}
	for _, row := range st.Rows {
		err := out.Write([]string{
			strconv.FormatInt(row.EntryID, 10),
			row.EffectiveDate.String(),
			string(row.Direction),
			row.CounterpartyName,
			row.BankDocumentNumber,
			row.Memo,
			row.Amount.StringFixed(2),
			row.Balance.StringFixed(2),
		})
		if err != nil {
			return err
		}
	}
	if err := out.Write([]string{"closing_balance", st.Closing.StringFixed(2)}); err != nil {
		return err
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

// RenderHTML renders the printable statement page.
func (r *StatementRenderer) RenderHTML(st cashflow.Statement) (string, error) {
	var buf bytes.Buffer
	if err := statementTemplate.Execute(&buf, st); err != nil {
		return "", fmt.Errorf("report: render statement: %w", err)
	}
	return buf.String(), nil
}

// RenderPDF renders the statement page and converts it through Gotenberg.
func (r *StatementRenderer) RenderPDF(ctx context.Context, st cashflow.Statement) ([]byte, error) {
	if r.pdf == nil {
		return nil, fmt.Errorf("report: pdf rendering not configured")
	}
	html, err := r.RenderHTML(st)
	if err != nil {
		return nil, err
	}
	return r.pdf.RenderHTML(ctx, html)
}

var _ cashflow.StatementRenderer = (*StatementRenderer)(nil)
