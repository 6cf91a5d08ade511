// Package report renders a wallet's transaction history as a downloadable
// file.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/cryptoguard/internal/wallet"
)

var ErrUnsupportedFormat = errors.New("report: unsupported format")

// Formats.
const (
	FormatCSV  = "csv"
	FormatText = "txt"
)

// DefaultLimit is how many transactions an export covers.
const DefaultLimit = 100

// Columns of the CSV export, in order.
var Columns = []string{"hash", "direction", "amount", "currency", "counterparty", "status", "timestamp"}

// File is a rendered report.
type File struct {
	Filename string
	MIME     string
	Body     []byte
}

// Size returns the body length in bytes.
func (f *File) Size() int { return len(f.Body) }

// ParseFormat normalizes a format query value; empty selects CSV.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// Generate renders txs for w in the given format. now stamps text reports.
func Generate(w *wallet.Wallet, txs []wallet.Transaction, format string, now time.Time) (*File, error) {
	switch format {
	case FormatCSV, "":
		return CSV(w, txs)
	case FormatText:
		return Text(w, txs, now), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// CSV renders txs with a header row.
func CSV(w *wallet.Wallet, txs []wallet.Transaction) (*File, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(Columns); err != nil {
		return nil, err
	}
	for _, tx := range txs {
		row := []string{
			tx.Hash,
			string(tx.Direction),
			tx.Amount.String(),
			tx.Currency,
			tx.Counterparty,
			string(tx.Status),
			tx.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("report: write csv: %w", err)
	}
	return &File{
		Filename: Filename(w, FormatCSV),
		MIME:     "text/csv",
		Body:     buf.Bytes(),
	}, nil
}

// Text renders a human-readable statement.
func Text(w *wallet.Wallet, txs []wallet.Transaction, now time.Time) *File {
	var sb strings.Builder
	sb.WriteString("CryptoGuard Wallet Report\n\n")
	fmt.Fprintf(&sb, "Wallet: %s\n", w.Label)
	fmt.Fprintf(&sb, "Address: %s\n", w.Address)
	fmt.Fprintf(&sb, "Generated: %s\n\n", now.UTC().Format(time.RFC3339))
	for _, tx := range txs {
		fmt.Fprintf(&sb, "Txn %s\n", tx.Hash)
		fmt.Fprintf(&sb, "  Direction: %s  Amount: %s %s\n", strings.ToUpper(string(tx.Direction)), tx.Amount.String(), tx.Currency)
		fmt.Fprintf(&sb, "  Counterparty: %s\n", tx.Counterparty)
		fmt.Fprintf(&sb, "  Status: %s  Timestamp: %s\n\n", tx.Status, tx.Timestamp.UTC().Format(time.RFC3339))
	}
	return &File{
		Filename: Filename(w, FormatText),
		MIME:     "text/plain; charset=utf-8",
		Body:     []byte(sb.String()),
	}
}

// Filename is "<label>-report.<format>". Characters that would break a
// Content-Disposition header are replaced.
func Filename(w *wallet.Wallet, format string) string {
	label := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '/', '\r', '\n':
			return '_'
		}
		return r
	}, w.Label)
	if label == "" {
		label = w.ID
	}
	return label + "-report." + format
}
