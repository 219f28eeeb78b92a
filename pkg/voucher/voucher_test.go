package voucher

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/extract"
	"github.com/ArionMiles/mailvoucher/pkg/formula"
)

func f(s string) api.Amount { return api.Amount{Formula: s} }

func lit(s string) api.Amount { return api.Amount{Literal: decimal.RequireFromString(s)} }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func amounts(v *api.Voucher) [][3]string {
	out := make([][3]string, 0, len(v.Entries))
	for _, e := range v.Entries {
		out = append(out, [3]string{e.Account, e.Debit.StringFixed(2), e.Credit.StringFixed(2)})
	}
	return out
}

func TestBuild_AppleReceipt(t *testing.T) {
	re, err := extract.Compile(`(?:betalat|avgift|SEK|kr)[\s:]*([0-9]+[,.]?[0-9]*)`)
	require.NoError(t, err)

	rule := &api.Rule{
		Name: "Apple iCloud",
		DataExtraction: map[string]api.ExtractionSpec{
			"total_amount": {Pattern: re, Default: d("10")},
		},
		Accounting: api.VoucherTemplate{
			Description: "Apple iCloud",
			Series:      "F",
			Entries: []api.EntryTemplate{
				{Account: "6540", Debit: f("total_amount * 0.8")},
				{Account: "2641", Debit: f("total_amount * 0.2")},
				{Account: "2820", Credit: f("total_amount")},
			},
		},
	}

	res := extract.Extract(rule.DataExtraction, "Tack! Månadsavgift 399,00 kr", "")
	assert.Equal(t, "399.00", res.Values["total_amount"].StringFixed(2))

	v, err := Build(rule, res.Values)
	require.NoError(t, err)

	assert.Equal(t, "Apple iCloud", v.Description)
	assert.Equal(t, "F", v.Series)
	assert.Equal(t, "Apple iCloud", v.Rule)
	assert.Equal(t, [][3]string{
		{"6540", "319.20", "0.00"},
		{"2641", "79.80", "0.00"},
		{"2820", "0.00", "399.00"},
	}, amounts(v))
	assert.True(t, v.TotalDebit().Equal(v.TotalCredit()))
}

func TestBuild_DefaultsWhenNothingFound(t *testing.T) {
	re, err := extract.Compile(`Subtotal\s*([0-9.,]+)`)
	require.NoError(t, err)
	taxRe, err := extract.Compile(`VAT\s*([0-9]+)%`)
	require.NoError(t, err)

	rule := &api.Rule{
		Name: "Hosting",
		DataExtraction: map[string]api.ExtractionSpec{
			"base_amount": {Pattern: re, Default: d("100.00")},
			"tax_percent": {Pattern: taxRe, Default: d("25")},
		},
		Accounting: api.VoucherTemplate{
			Series: "A",
			Entries: []api.EntryTemplate{
				{Account: "6230", Debit: f("base_amount")},
				{Account: "2641", Debit: f("base_amount * (tax_percent/100)")},
				{Account: "2440", Credit: f("base_amount * (1 + tax_percent/100)")},
			},
		},
	}

	res := extract.Extract(rule.DataExtraction, "Thanks for your payment.", "")
	assert.Equal(t, []string{"base_amount", "tax_percent"}, res.Defaulted())

	v, err := Build(rule, res.Values)
	require.NoError(t, err)
	assert.Equal(t, [][3]string{
		{"6230", "100.00", "0.00"},
		{"2641", "25.00", "0.00"},
		{"2440", "0.00", "125.00"},
	}, amounts(v))
}

func TestBuild_TaxFormula(t *testing.T) {
	rule := &api.Rule{
		Accounting: api.VoucherTemplate{
			Entries: []api.EntryTemplate{
				{Account: "2641", Debit: f("base_amount * (tax_percent/100)")},
				{Account: "1930", Credit: lit("20")},
			},
		},
	}

	v, err := Build(rule, map[string]decimal.Decimal{"base_amount": d("80"), "tax_percent": d("25")})
	require.NoError(t, err)
	assert.Equal(t, "20.00", v.Entries[0].Debit.StringFixed(2))
}

func TestBuild_Unbalanced(t *testing.T) {
	rule := &api.Rule{
		Accounting: api.VoucherTemplate{
			Entries: []api.EntryTemplate{
				{Account: "6540", Debit: f("amount")},
				{Account: "2820", Credit: f("amount * 0.9")},
			},
		},
	}

	v, err := Build(rule, map[string]decimal.Decimal{"amount": d("100")})
	require.Error(t, err)
	assert.Nil(t, v)

	var verr *VoucherError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "100.00", verr.Debit.StringFixed(2))
	assert.Equal(t, "90.00", verr.Credit.StringFixed(2))
	assert.Contains(t, err.Error(), "(100.00, 90.00)")
}

func TestBuild_Tolerance(t *testing.T) {
	tests := []struct {
		name   string
		credit string
		ok     bool
	}{
		{"exact", "100.00", true},
		{"one cent under", "99.99", true},
		{"one cent over", "100.01", true},
		{"two cents off", "99.98", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rule := &api.Rule{
				Accounting: api.VoucherTemplate{
					Entries: []api.EntryTemplate{
						{Account: "1", Debit: lit("100")},
						{Account: "2", Credit: lit(tc.credit)},
					},
				},
			}
			_, err := Build(rule, nil)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				var verr *VoucherError
				assert.ErrorAs(t, err, &verr)
			}
		})
	}
}

func TestBuild_FormulaErrors(t *testing.T) {
	tests := []struct {
		name    string
		debit   api.Amount
		credit  api.Amount
		column  string
		wantErr error
	}{
		{"undefined variable", f("missing * 2"), lit("0"), "debit", formula.ErrUndefinedVariable},
		{"division by zero", lit("0"), f("amount / zero"), "credit", formula.ErrDivisionByZero},
		{"syntax", f("__import__('os')"), lit("0"), "debit", formula.ErrSyntax},
	}

	vars := map[string]decimal.Decimal{"amount": d("10"), "zero": decimal.Zero}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rule := &api.Rule{
				Accounting: api.VoucherTemplate{
					Entries: []api.EntryTemplate{
						{Account: "1930", Debit: lit("1"), Credit: lit("1")},
						{Account: "6540", Debit: tc.debit, Credit: tc.credit},
					},
				},
			}

			v, err := Build(rule, vars)
			require.Error(t, err)
			assert.Nil(t, v)
			assert.True(t, errors.Is(err, tc.wantErr))

			var ferr *formula.FormulaError
			assert.ErrorAs(t, err, &ferr)

			var eerr *EntryError
			require.ErrorAs(t, err, &eerr)
			assert.Equal(t, 1, eerr.Index)
			assert.Equal(t, "6540", eerr.Account)
			assert.Equal(t, tc.column, eerr.Column)
		})
	}
}

func TestBuild_PreservesEntryOrder(t *testing.T) {
	rule := &api.Rule{
		Accounting: api.VoucherTemplate{
			Entries: []api.EntryTemplate{
				{Account: "2820", Credit: lit("3")},
				{Account: "6540", Debit: lit("1")},
				{Account: "1930", Debit: lit("2")},
			},
		},
	}

	v, err := Build(rule, nil)
	require.NoError(t, err)
	assert.Equal(t, [][3]string{
		{"2820", "0.00", "3.00"},
		{"6540", "1.00", "0.00"},
		{"1930", "2.00", "0.00"},
	}, amounts(v))
}

func TestBuild_RoundsEachAmount(t *testing.T) {
	rule := &api.Rule{
		Accounting: api.VoucherTemplate{
			Entries: []api.EntryTemplate{
				{Account: "1", Debit: f("total / 3")},
				{Account: "2", Debit: f("total / 3")},
				{Account: "3", Debit: f("total / 3")},
				{Account: "4", Credit: f("total")},
			},
		},
	}

	v, err := Build(rule, map[string]decimal.Decimal{"total": d("100")})
	require.NoError(t, err)
	assert.Equal(t, "33.33", v.Entries[0].Debit.StringFixed(2))
	assert.Equal(t, "99.99", v.TotalDebit().StringFixed(2))
}
