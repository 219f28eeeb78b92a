package plugins

import (
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
	gmailreader "github.com/ArionMiles/mailvoucher/pkg/plugins/readers/gmail"
	mboxreader "github.com/ArionMiles/mailvoucher/pkg/plugins/readers/mbox"
	csvwriter "github.com/ArionMiles/mailvoucher/pkg/plugins/writers/csv"
	fortnoxwriter "github.com/ArionMiles/mailvoucher/pkg/plugins/writers/fortnox"
	jsonwriter "github.com/ArionMiles/mailvoucher/pkg/plugins/writers/json"
	kleerwriter "github.com/ArionMiles/mailvoucher/pkg/plugins/writers/kleer"
	pgwriter "github.com/ArionMiles/mailvoucher/pkg/plugins/writers/postgres"
	sheetswriter "github.com/ArionMiles/mailvoucher/pkg/plugins/writers/sheets"
)

// Builtin returns a registry holding every reader and writer shipped with
// mailvoucher. m may be nil.
func Builtin(m *metrics.Metrics) *Registry {
	r := NewRegistry()

	// Names are distinct, so registration cannot fail.
	for _, p := range []ReaderPlugin{
		&gmailreader.Plugin{},
		&mboxreader.Plugin{},
	} {
		_ = r.RegisterReader(p)
	}
	for _, p := range []WriterPlugin{
		&fortnoxwriter.Plugin{Metrics: m},
		&kleerwriter.Plugin{Metrics: m},
		&jsonwriter.Plugin{},
		&csvwriter.Plugin{},
		&sheetswriter.Plugin{},
		&pgwriter.Plugin{},
	} {
		_ = r.RegisterWriter(p)
	}
	return r
}
