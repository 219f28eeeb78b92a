package mailtext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	assert.Equal(t, "Ditt kvitto från Apple", Header("=?UTF-8?Q?Ditt_kvitto_fr=C3=A5n_Apple?="))
	assert.Equal(t, "Faktura för juni", Header("=?ISO-8859-1?Q?Faktura_f=F6r_juni?="))
	assert.Equal(t, "plain subject", Header("plain subject"))
}

func TestTransfer(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		in       string
		want     string
	}{
		{"base64 with line breaks", "base64", "VG90YWw6\r\nIDM5OSBrcg==", "Total: 399 kr"},
		{"quoted-printable", "Quoted-Printable", "Belopp: 1=20250,00 kr=\r\nmer", "Belopp: 1 250,00 krmer"},
		{"7bit passes through", "7bit", "hello", "hello"},
		{"empty passes through", "", "hello", "hello"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transfer(tc.encoding, []byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}

	_, err := Transfer("base64", []byte("!!!"))
	assert.Error(t, err)
}

func TestCharsetAndText(t *testing.T) {
	assert.Equal(t, "iso-8859-1", Charset(`text/plain; charset="iso-8859-1"`))
	assert.Equal(t, "", Charset("text/plain"))
	assert.Equal(t, "", Charset(";;"))

	assert.Equal(t, "Månadsavgift", Text("iso-8859-1", []byte("M\xe5nadsavgift")))
	assert.Equal(t, "Månadsavgift", Text("windows-1252", []byte("M\xe5nadsavgift")))
	assert.Equal(t, "Månadsavgift", Text("UTF-8", []byte("Månadsavgift")))
	assert.Equal(t, "raw", Text("x-no-such-charset", []byte("raw")))
}

func TestDate(t *testing.T) {
	got := Date("Mon, 01 Jun 2026 10:15:00 +0200")
	assert.True(t, got.Equal(time.Date(2026, 6, 1, 8, 15, 0, 0, time.UTC)))
	assert.True(t, Date("yesterday").IsZero())
	assert.True(t, Date("").IsZero())
}

func TestSender(t *testing.T) {
	assert.Equal(t, "Apple <no_reply@email.apple.com>", Sender("Apple <no_reply@email.apple.com>"))
	assert.Equal(t, "billing@host.example", Sender("billing@host.example"))
	assert.Equal(t, "not an address", Sender("not an address"))
}
