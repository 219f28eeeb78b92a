package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailvoucher/internal/pgtest"
	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/logging"
	"github.com/ArionMiles/mailvoucher/pkg/pg"
)

func TestNew_ConnectionFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	_, err := New(context.Background(), Config{Config: pg.Config{
		Host:     "nonexistent-host.invalid",
		Database: "mailvoucher",
		User:     "mailvoucher",
		Password: "password",
	}}, logging.Discard())
	assert.Error(t, err)
}

func hostingVoucher(id, base string) *api.Voucher {
	b := decimal.RequireFromString(base)
	tax := b.Mul(decimal.RequireFromString("0.25"))
	return &api.Voucher{
		Description: "Hosting",
		Series:      "F",
		Date:        time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		Rule:        "Hosting invoice",
		MessageID:   id,
		Entries: []api.Entry{
			{Account: "6230", Debit: b},
			{Account: "2641", Debit: tax},
			{Account: "2440", Credit: b.Add(tax)},
		},
	}
}

type row struct {
	Account string
	Debit   string
	Credit  string
}

func TestWrite(t *testing.T) {
	url := pgtest.URL(t)
	ctx := context.Background()

	w, err := New(ctx, Config{Config: pg.Config{URL: url}, BatchSize: 2}, logging.Discard())
	require.NoError(t, err)

	in := make(chan *api.Voucher, 3)
	ack := make(chan string, 3)
	in <- hostingVoucher("m1", "100")
	in <- hostingVoucher("m2", "80")
	in <- hostingVoucher("m1", "200")
	close(in)

	require.NoError(t, w.Write(ctx, in, ack))
	assert.Equal(t, []string{"m1", "m2", "m1"}, []string{<-ack, <-ack, <-ack})

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers`).Scan(&count))
	assert.Equal(t, 2, count)

	var total string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT total::text FROM vouchers WHERE message_id = 'm1'`).Scan(&total))
	assert.Equal(t, "250.00", total)

	rows, err := pool.Query(ctx, `
		SELECT r.account, r.debit::text AS debit, r.credit::text AS credit
		FROM voucher_rows r JOIN vouchers v ON v.id = r.voucher_id
		WHERE v.message_id = 'm2' ORDER BY r.position`)
	require.NoError(t, err)
	got, err := pgx.CollectRows(rows, pgx.RowToStructByName[row])
	require.NoError(t, err)
	assert.Equal(t, []row{
		{"6230", "80.00", "0.00"},
		{"2641", "20.00", "0.00"},
		{"2440", "0.00", "100.00"},
	}, got)
}
