package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/logging"
)

func voucher(id string) *api.Voucher {
	return &api.Voucher{
		Description: "Hosting",
		Series:      "A",
		Date:        time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		Rule:        "Hosting invoice",
		MessageID:   id,
		Entries: []api.Entry{
			{Account: "6230", Debit: decimal.NewFromInt(100)},
			{Account: "2641", Debit: decimal.NewFromInt(25)},
			{Account: "2440", Credit: decimal.NewFromInt(125)},
		},
	}
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vouchers.csv")

	w, err := New(Config{FilePath: path, BatchSize: 5}, logging.Discard())
	require.NoError(t, err)

	in := make(chan *api.Voucher, 1)
	ack := make(chan string, 1)
	in <- voucher("m1")
	close(in)

	require.NoError(t, w.Write(context.Background(), in, ack))
	assert.Equal(t, "m1", <-ack)

	rows := readAll(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, []string{"2026-05-04", "A", "Hosting", "6230", "100.00", "0.00", "Hosting invoice", "m1"}, rows[1])
	assert.Equal(t, []string{"2026-05-04", "A", "Hosting", "2440", "0.00", "125.00", "Hosting invoice", "m1"}, rows[3])
}

func TestWriter_HeaderOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vouchers.csv")

	for _, id := range []string{"m1", "m2"} {
		w, err := New(Config{FilePath: path}, logging.Discard())
		require.NoError(t, err)
		in := make(chan *api.Voucher, 1)
		in <- voucher(id)
		close(in)
		require.NoError(t, w.Write(context.Background(), in, nil))
	}

	rows := readAll(t, path)
	assert.Len(t, rows, 7)
	assert.Equal(t, "m2", rows[6][7])
}
