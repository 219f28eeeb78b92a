// Package api defines the core interfaces and data structures for mailvoucher.
package api

import (
	"context"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Email is a normalized message handed to the rule engine by a Reader.
type Email struct {
	// ID is the source message ID (used for acknowledgment and duplicate tracking).
	ID      string
	Sender  string
	Subject string
	// BodyPlain is the text/plain body, possibly empty.
	BodyPlain string
	// BodyHTML is the text/html body. Empty means the message had no HTML part.
	BodyHTML    string
	Date        time.Time
	Attachments []Attachment
}

// Attachment is a file that accompanies a voucher in the ledger.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// ExtractionSpec describes how to find one named variable in an email.
type ExtractionSpec struct {
	// Pattern is applied to the plain text body. It has one capturing group.
	Pattern *regexp.Regexp
	// HTMLPattern is optional and applied to the HTML body first.
	HTMLPattern *regexp.Regexp
	// Default is used when no pattern yields a number.
	Default decimal.Decimal
}

// Rule is an email matching criterion plus its accounting template.
type Rule struct {
	Name    string
	Enabled bool
	// Sender and Subject are case-insensitive substrings. Empty matches anything.
	Sender  string
	Subject string
	// BodyContains terms must all be present in the body.
	BodyContains   []string
	DataExtraction map[string]ExtractionSpec
	Accounting     VoucherTemplate
}

// VoucherTemplate is the unevaluated voucher a rule produces.
type VoucherTemplate struct {
	Description string
	Series      string
	Entries     []EntryTemplate
}

// EntryTemplate is one ledger row whose amounts may be formulas.
type EntryTemplate struct {
	Account string
	Debit   Amount
	Credit  Amount
}

// Amount is either a literal number or a formula over extracted variables.
type Amount struct {
	// Formula is set when the amount must be evaluated. Literal is ignored then.
	Formula string
	Literal decimal.Decimal
}

// IsFormula reports whether the amount needs evaluation.
func (a Amount) IsFormula() bool {
	return a.Formula != ""
}

// Voucher is a fully resolved, balanced set of ledger entries.
type Voucher struct {
	Description string    `json:"description"`
	Series      string    `json:"series"`
	Date        time.Time `json:"date"`
	Entries     []Entry   `json:"entries"`
	// Rule is the name of the rule that produced the voucher.
	Rule string `json:"rule,omitempty"`
	// MessageID is the source email ID (used for acknowledgment after a successful write).
	MessageID  string      `json:"message_id,omitempty"`
	Attachment *Attachment `json:"-"`
}

// Entry is one resolved ledger row.
type Entry struct {
	Account string          `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
}

// TotalDebit sums the debit column.
func (v *Voucher) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, e := range v.Entries {
		total = total.Add(e.Debit)
	}
	return total
}

// TotalCredit sums the credit column.
func (v *Voucher) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, e := range v.Entries {
		total = total.Add(e.Credit)
	}
	return total
}

// Reader reads emails from a source and sends them to the provided channel.
// Implementations should close the channel when done or on error.
// The ackChan is used to receive acknowledgments of successfully written vouchers.
type Reader interface {
	Read(ctx context.Context, out chan<- *Email, ackChan <-chan string) error
}

// Writer consumes vouchers from a channel and writes them to a destination.
// Message IDs of successfully written vouchers are sent to the ackChan.
type Writer interface {
	Write(ctx context.Context, in <-chan *Voucher, ackChan chan<- string) error
}

// Store tracks which messages were already turned into vouchers or ignored.
type Store interface {
	IsHandled(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
	MarkIgnored(ctx context.Context, messageID string) error
	Processed(ctx context.Context) ([]string, error)
	Ignored(ctx context.Context) ([]string, error)
}

// DateLayout is the ledger's transaction date format.
const DateLayout = "2006-01-02"

// TransactionDate returns the voucher date formatted for the ledger.
func (v *Voucher) TransactionDate() string {
	return v.Date.Format(DateLayout)
}
