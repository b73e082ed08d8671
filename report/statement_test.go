package report

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/bankaccounts"
	"github.com/uvr-coop/uvr/internal/cashflow"
	"github.com/uvr-coop/uvr/internal/shared"
)

func sampleStatement(t *testing.T) cashflow.Statement {
	t.Helper()
	from, err := shared.ParseDate("2024-01-01")
	require.NoError(t, err)
	day, err := shared.ParseDate("2024-01-03")
	require.NoError(t, err)
	return cashflow.Statement{
		Account: bankaccounts.Account{ID: 9, BankName: "Coop Bank", Branch: "0001", AccountNumber: "123-4"},
		From:    from,
		Opening: decimal.RequireFromString("10"),
		Closing: decimal.RequireFromString("-15.5"),
		Rows: []cashflow.StatementRow{{
			EntryID:          1,
			EffectiveDate:    day,
			Direction:        cashflow.DirectionPayment,
			CounterpartyName: `Diesel, "Posto" <Ltda>`,
			Amount:           decimal.RequireFromString("-25.5"),
			Balance:          decimal.RequireFromString("-15.5"),
		}},
	}
}

func TestRenderCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewStatementRenderer(nil).RenderCSV(&buf, sampleStatement(t)))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	require.Equal(t, "account,Coop Bank,0001,123-4", lines[0])
	require.Equal(t, "period,2024-01-01,", lines[1])
	require.Equal(t, "opening_balance,10.00", lines[2])
	require.Equal(t, `1,2024-01-03,PAYMENT,"Diesel, ""Posto"" <Ltda>",,,-25.50,-15.50`, lines[5])
	require.Equal(t, "closing_balance,-15.50", lines[6])
}

func TestRenderHTMLEscapes(t *testing.T) {
	html, err := NewStatementRenderer(nil).RenderHTML(sampleStatement(t))
	require.NoError(t, err)
	require.Contains(t, html, "Coop Bank 0001 123-4")
	require.Contains(t, html, "Period: 2024-01-01 to today")
	require.Contains(t, html, "&lt;Ltda&gt;")
	require.Contains(t, html, "-25.50")
	require.Contains(t, html, "10.00")
}

func TestRenderPDFThroughGotenberg(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		file, _, err := r.FormFile("files")
		require.NoError(t, err)
		html, _ := io.ReadAll(file)
		require.Contains(t, string(html), "Closing balance")
		_, _ = w.Write([]byte("%PDF-1.7 statement"))
	}))
	defer srv.Close()

	pdf, err := NewStatementRenderer(NewClient(srv.URL+"/")).RenderPDF(context.Background(), sampleStatement(t))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 statement", string(pdf))
	require.Equal(t, int32(2), calls.Load())
}

func TestRenderPDFClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<html></html>")
	require.ErrorIs(t, err, ErrInvalidResponse)
	require.Equal(t, int32(1), calls.Load())

	_, err = NewStatementRenderer(nil).RenderPDF(context.Background(), sampleStatement(t))
	require.Error(t, err)
}

func TestPingHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHandler(NewClient(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	h.ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
