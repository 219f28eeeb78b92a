// Package voucher resolves a rule's accounting template into a balanced voucher.
package voucher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/formula"
	"github.com/ArionMiles/mailvoucher/pkg/money"
)

// VoucherError is returned when the resolved entries do not balance.
type VoucherError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *VoucherError) Error() string {
	return fmt.Sprintf("voucher does not balance: (debit, credit) = (%s, %s)",
		money.Format(e.Debit), money.Format(e.Credit))
}

// EntryError wraps a formula failure with the entry it came from.
type EntryError struct {
	Index   int
	Account string
	Column  string
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d (account %s) %s: %v", e.Index, e.Account, e.Column, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Build evaluates every entry of rule's template against vars.
// Description, Series and Rule are copied from the rule; the caller fills
// in Date, MessageID and Attachment.
func Build(rule *api.Rule, vars map[string]decimal.Decimal) (*api.Voucher, error) {
	tmpl := rule.Accounting
	v := &api.Voucher{
		Description: tmpl.Description,
		Series:      tmpl.Series,
		Rule:        rule.Name,
		Entries:     make([]api.Entry, 0, len(tmpl.Entries)),
	}

	for i, et := range tmpl.Entries {
		debit, err := formula.EvaluateAmount(et.Debit, vars)
		if err != nil {
			return nil, &EntryError{Index: i, Account: et.Account, Column: "debit", Err: err}
		}
		credit, err := formula.EvaluateAmount(et.Credit, vars)
		if err != nil {
			return nil, &EntryError{Index: i, Account: et.Account, Column: "credit", Err: err}
		}
		v.Entries = append(v.Entries, api.Entry{Account: et.Account, Debit: debit, Credit: credit})
	}

	debit, credit := v.TotalDebit(), v.TotalCredit()
	if !money.Balanced(debit, credit) {
		return nil, &VoucherError{Debit: debit, Credit: credit}
	}
	return v, nil
}
