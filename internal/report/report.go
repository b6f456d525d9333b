package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"kasirinaja/terminal/internal/domain"
)

type Format string

const (
	FormatText   Format = "text"
	FormatESCPOS Format = "escpos"
	FormatHTML   Format = "html"
	FormatCSV    Format = "csv"
	FormatXLSX   Format = "xlsx"
)

const sheetName = "Day End"

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatText, FormatESCPOS, FormatHTML, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("report format %q: %w", raw, domain.ErrInvalidInput)
	}
}

func ContentType(f Format) string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatESCPOS:
		return "application/octet-stream"
	default:
		return "text/plain; charset=utf-8"
	}
}

func FileName(summary domain.DayEndSummary, f Format) string {
	ext := string(f)
	switch f {
	case FormatText:
		ext = "txt"
	case FormatESCPOS:
		ext = "bin"
	}
	return fmt.Sprintf("dayend-%s-%s-%s.%s", summary.StoreID, summary.TerminalID, summary.Date, ext)
}

// Field is one labeled line of a printed summary.
type Field struct {
	Label string `csv:"field"`
	Value string `csv:"value"`
}

// Fields lists every summary field in print order, ending with the
// generation timestamp.
func Fields(summary domain.DayEndSummary, generatedAt time.Time) []Field {
	fields := []Field{
		{"Date", summary.Date},
		{"Store", summary.StoreID},
		{"Terminal", summary.TerminalID},
		{"Shift", summary.ShiftID},
		{"Cashier", summary.CashierName},
		{"Invoices", fmt.Sprintf("%d", summary.InvoiceCount)},
		{"Opening cash", Money(summary.OpeningCashCents)},
	}

	methods := make([]string, 0, len(summary.SalesByMethod))
	for method := range summary.SalesByMethod {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	for _, method := range methods {
		fields = append(fields, Field{"Sales " + method, Money(summary.SalesByMethod[method])})
	}
	if len(methods) == 0 {
		fields = append(fields, Field{"Sales by method", "-"})
	}

	fields = append(fields,
		Field{"Cash sales", Money(summary.CashSalesCents)},
		Field{"Cash refunds", Money(summary.CashRefundsCents)},
		Field{"Cash expenses", Money(summary.CashExpensesCents)},
		Field{"Total expenses", Money(summary.TotalExpensesCents)},
		Field{"Total discounts", Money(summary.TotalDiscountsCents)},
		Field{"Total tax", Money(summary.TotalTaxCents)},
		Field{"Net revenue", Money(summary.NetRevenueCents)},
		Field{"Expected cash", Money(summary.ExpectedCashCents)},
		Field{"Counted cash", Money(summary.ActualCashCountedCents)},
		Field{"Difference", Money(summary.DifferenceCents)},
		Field{"Notes", summary.Notes},
		Field{"Signature", summary.Signature},
	)
	if summary.ClosedAt != nil {
		fields = append(fields, Field{"Closed at", summary.ClosedAt.UTC().Format(time.RFC3339)})
	}
	fields = append(fields, Field{"Generated at", generatedAt.UTC().Format(time.RFC3339)})
	return fields
}

// Money prints minor units with two decimals.
func Money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func Render(w io.Writer, f Format, summary domain.DayEndSummary, generatedAt time.Time) error {
	fields := Fields(summary, generatedAt)
	switch f {
	case FormatText:
		_, err := io.WriteString(w, strings.Join(textLines(fields), "\n")+"\n")
		return err
	case FormatESCPOS:
		_, err := w.Write(escpos(textLines(fields)))
		return err
	case FormatHTML:
		return dayEndHTMLTmpl.Execute(w, htmlView{Summary: summary, Fields: fields})
	case FormatCSV:
		rows := make([]*Field, 0, len(fields))
		for i := range fields {
			rows = append(rows, &fields[i])
		}
		return gocsv.Marshal(rows, w)
	case FormatXLSX:
		return writeXLSX(w, fields)
	default:
		return fmt.Errorf("report format %q: %w", f, domain.ErrInvalidInput)
	}
}

func RenderBytes(f Format, summary domain.DayEndSummary, generatedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, f, summary, generatedAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const receiptWidth = 32

func textLines(fields []Field) []string {
	rule := strings.Repeat("=", receiptWidth)
	lines := []string{"KasirinAja POS", "LAPORAN TUTUP KASIR", rule}
	for _, field := range fields {
		label := field.Label
		if len(label) > 16 {
			label = label[:16]
		}
		lines = append(lines, fmt.Sprintf("%-16s: %s", label, field.Value))
		if field.Label == "Opening cash" || field.Label == "Net revenue" || field.Label == "Difference" {
			lines = append(lines, strings.Repeat("-", receiptWidth))
		}
	}
	lines = append(lines, rule, "")
	return lines
}

// escpos wraps receipt lines with printer init and a partial cut.
func escpos(lines []string) []byte {
	out := []byte{0x1b, 0x40}
	for _, line := range lines {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	return append(out, 0x1d, 0x56, 0x41, 0x10)
}

func writeXLSX(w io.Writer, fields []Field) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := f.SetCellValue(sheetName, "A1", "Field"); err != nil {
		return err
	}
	if err := f.SetCellValue(sheetName, "B1", "Value"); err != nil {
		return err
	}
	for i, field := range fields {
		row := i + 2
		if err := f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), field.Label); err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), field.Value); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetName, "A", "A", 20); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "B", "B", 28); err != nil {
		return err
	}
	return f.Write(w)
}

type htmlView struct {
	Summary domain.DayEndSummary
	Fields  []Field
}

var dayEndHTMLTmpl = template.Must(template.New("dayend").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Day End {{.Summary.Date}} {{.Summary.TerminalID}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.value { text-align: right; }
  </style>
</head>
<body>
  <h2>Day End {{.Summary.Date}}</h2>
  <table>
    <tbody>{{range .Fields}}<tr><th>{{.Label}}</th><td class="value">{{.Value}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))
