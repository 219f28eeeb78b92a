package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/extract"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
	"github.com/ArionMiles/mailvoucher/pkg/rules"
	"github.com/ArionMiles/mailvoucher/pkg/voucher"
)

// Stats counts processor outcomes for one run.
type Stats struct {
	Emails   int
	Vouchers int
	NoMatch  int
	Handled  int
	Failed   int
}

// Processor turns emails into vouchers: store check, rule match,
// extraction, then voucher building.
type Processor struct {
	rules         []api.Rule
	store         api.Store
	ignoreHandled bool
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	seen  map[string]bool
	stats Stats
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Rules []api.Rule
	// Store is consulted for already handled messages. Nil disables the check.
	Store api.Store
	// IgnoreHandled processes messages even when the store knows them.
	IgnoreHandled bool
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		rules:         cfg.Rules,
		store:         cfg.Store,
		ignoreHandled: cfg.IgnoreHandled,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
		seen:          make(map[string]bool),
	}
}

// Run processes emails until in is closed, sending vouchers to out.
// out is closed on return.
func (p *Processor) Run(ctx context.Context, in <-chan *api.Email, out chan<- *api.Voucher) error {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case email, ok := <-in:
			if !ok {
				return nil
			}
			v, err := p.Process(ctx, email)
			if err != nil || v == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- v:
			}
		}
	}
}

// Process handles one email. It returns a nil voucher without error when
// the email is skipped. Failures are logged and counted before returning.
func (p *Processor) Process(ctx context.Context, email *api.Email) (*api.Voucher, error) {
	logger := p.logger.With("message_id", email.ID, "subject", email.Subject)
	p.count(func(s *Stats) { s.Emails++ })

	if p.store != nil && !p.ignoreHandled && email.ID != "" {
		handled, err := p.store.IsHandled(ctx, email.ID)
		if err != nil {
			p.metrics.Errors.WithLabelValues(metrics.KindStore).Inc()
			p.fail(logger, fmt.Errorf("checking store: %w", err))
			return nil, err
		}
		if handled {
			p.metrics.Emails.WithLabelValues(metrics.OutcomeHandled).Inc()
			p.count(func(s *Stats) { s.Handled++ })
			logger.Debug("message already processed or ignored")
			return nil, nil
		}
	}

	if email.ID != "" && !p.firstSighting(email.ID) {
		p.metrics.Emails.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		logger.Debug("message already seen in this run")
		return nil, nil
	}

	rule := rules.Match(email, p.rules)
	if rule == nil {
		p.metrics.Emails.WithLabelValues(metrics.OutcomeNoMatch).Inc()
		p.count(func(s *Stats) { s.NoMatch++ })
		logger.Debug("no rule matched")
		return nil, nil
	}
	logger = logger.With("rule", rule.Name)

	res := extract.Extract(rule.DataExtraction, email.BodyPlain, email.BodyHTML)
	for _, name := range res.Defaulted() {
		p.metrics.ExtractionDefaults.WithLabelValues(rule.Name, name).Inc()
		logger.Warn("variable not found in email, using default",
			"variable", name,
			"value", res.Values[name].StringFixed(2),
		)
	}

	v, err := voucher.Build(rule, res.Values)
	if err != nil {
		var balanceErr *voucher.VoucherError
		if errors.As(err, &balanceErr) {
			p.metrics.Errors.WithLabelValues(metrics.KindBalance).Inc()
		} else {
			p.metrics.Errors.WithLabelValues(metrics.KindFormula).Inc()
		}
		p.fail(logger, err)
		return nil, err
	}

	p.complete(v, email)
	p.metrics.Emails.WithLabelValues(metrics.OutcomeVoucher).Inc()
	p.metrics.Vouchers.WithLabelValues(rule.Name).Inc()
	p.count(func(s *Stats) { s.Vouchers++ })
	logger.Info("voucher built",
		"date", v.TransactionDate(),
		"total", v.TotalDebit().StringFixed(2),
		"entries", len(v.Entries),
	)
	return v, nil
}

// Stats returns the counts so far.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Processor) fail(logger *slog.Logger, err error) {
	p.metrics.Emails.WithLabelValues(metrics.OutcomeFailed).Inc()
	p.count(func(s *Stats) { s.Failed++ })
	logger.Error("failed to process email", "error", err)
}

func (p *Processor) count(f func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.stats)
}

func (p *Processor) firstSighting(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[id] {
		return false
	}
	p.seen[id] = true
	return true
}

// complete fills in what the template cannot know.
func (p *Processor) complete(v *api.Voucher, email *api.Email) {
	v.MessageID = email.ID
	v.Date = email.Date
	if v.Date.IsZero() {
		v.Date = p.now()
	}
	if v.Description == "" {
		v.Description = "Email: " + email.Subject
	}
	v.Attachment = BodyAttachment(email)
}

// BodyAttachment renders the email body as the voucher's receipt: the HTML
// body when present, else the plain body. It returns nil for empty emails.
func BodyAttachment(email *api.Email) *api.Attachment {
	body := email.BodyHTML
	if body == "" {
		body = email.BodyPlain
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}

	data := []byte(body)
	name := sanitizeFilename(email.Subject)
	if name == "" {
		name = "email"
	}
	return &api.Attachment{
		Name:        name + ".html",
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(strings.TrimSpace(name), "_")
	if len(name) > 200 {
		name = strings.ToValidUTF8(name[:200], "")
	}
	return name
}
