package collector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/classify"
	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
	"github.com/ShupingR/tweener-portco-email-alert/internal/extract"
	"github.com/ShupingR/tweener-portco-email-alert/internal/mailbox"
	"github.com/ShupingR/tweener-portco-email-alert/internal/metrics"
	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
	"github.com/ShupingR/tweener-portco-email-alert/internal/store"
	"github.com/ShupingR/tweener-portco-email-alert/pkg/anthropic"
)

// Collector drives one collection run: fetch, dedupe, classify, extract,
// persist. One bad message never aborts the run; it is counted as a failure
// and the loop moves on.
type Collector struct {
	store      store.Store
	mailbox    mailbox.Client
	classifier *classify.Classifier
	extractor  *metrics.Extractor
	cfg        config.CollectorConfig
	model      string

	// DryRun processes everything but suppresses database writes and
	// attachment files. The summary reports what a real run would have done.
	DryRun bool

	now func() time.Time
}

// New creates a Collector.
func New(st store.Store, mb mailbox.Client, cl *classify.Classifier, ex *metrics.Extractor, cfg config.CollectorConfig, modelID string) *Collector {
	return &Collector{
		store:      st,
		mailbox:    mb,
		classifier: cl,
		extractor:  ex,
		cfg:        cfg,
		model:      modelID,
		now:        time.Now,
	}
}

// Run fetches messages received in the last `days` days and processes each.
// A mailbox fetch failure is fatal; everything after that is isolated
// per-message.
func (c *Collector) Run(ctx context.Context, days int) (*model.RunSummary, error) {
	started := c.now().UTC()
	since := started.AddDate(0, 0, -days)

	summary := &model.RunSummary{RunID: uuid.NewString(), StartedAt: started, DryRun: c.DryRun}

	msgs, err := c.mailbox.Fetch(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "collector: fetch mailbox")
	}
	summary.MessagesFound = len(msgs)

	companies, err := c.store.ListCompanies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "collector: load companies")
	}

	var usage anthropic.TokenUsage
	for _, raw := range msgs {
		if ctx.Err() != nil {
			zap.L().Warn("collector: run cancelled", zap.Error(ctx.Err()))
			break
		}
		c.processMessage(ctx, raw, &companies, summary, &usage)
	}

	summary.Duration = c.now().UTC().Sub(started).Seconds()
	usage.LogCost(c.model, "collect")
	zap.L().Info("collection run complete",
		zap.String("run_id", summary.RunID),
		zap.Int("messages_found", summary.MessagesFound),
		zap.Int("skipped_duplicates", summary.Skipped),
		zap.Int("not_updates", summary.NotUpdates),
		zap.Int("new_companies", summary.NewCompanies),
		zap.Int("new_emails", summary.NewEmails),
		zap.Int("new_attachments", summary.NewAttachments),
		zap.Int("new_metrics", summary.NewMetrics),
		zap.Int("failures", summary.Failures),
		zap.Bool("dry_run", summary.DryRun),
		zap.Float64("duration_secs", summary.Duration),
	)
	return summary, nil
}

func (c *Collector) processMessage(ctx context.Context, raw mailbox.RawMessage, companies *[]model.Company, summary *model.RunSummary, usage *anthropic.TokenUsage) {
	content, err := extract.Message(raw.Raw)
	if err != nil {
		summary.Failures++
		zap.L().Warn("collector: unparseable message",
			zap.Uint32("uid", raw.UID),
			zap.String("forwarder", raw.Forwarder),
			zap.Error(err),
		)
		return
	}

	fp := Fingerprint(content.MessageID, content.Sender, content.Subject, content.Date)
	seen, err := c.store.EmailExists(ctx, fp)
	if err != nil {
		summary.Failures++
		zap.L().Warn("collector: dedupe lookup failed", zap.String("fingerprint", fp), zap.Error(err))
		return
	}
	if seen {
		summary.Skipped++
		zap.L().Debug("collector: duplicate skipped",
			zap.String("subject", content.Subject),
			zap.String("fingerprint", fp),
		)
		return
	}

	body := content.Body
	if c.cfg.BodyCharLimit > 0 {
		body = extract.TruncateAtBoundary(body, c.cfg.BodyCharLimit)
	}

	verdict, callUsage, err := c.classifier.Classify(ctx,
		content.Subject, content.Sender, content.Date.Format(time.RFC1123Z), body, *companies)
	usage.Add(callUsage)
	if err != nil {
		summary.Failures++
		zap.L().Warn("collector: classification failed",
			zap.String("subject", content.Subject),
			zap.Error(err),
		)
		return
	}

	if !verdict.IsCompanyUpdate {
		summary.NotUpdates++
		zap.L().Debug("collector: not a company update",
			zap.String("subject", content.Subject),
			zap.String("reasoning", verdict.Reasoning),
		)
		return
	}

	company := c.resolveCompany(ctx, verdict, companies, summary)

	upd := &store.SavedUpdate{
		Email: model.EmailUpdate{
			Fingerprint:    fp,
			Sender:         content.Sender,
			Subject:        content.Subject,
			Body:           content.Body,
			Date:           content.Date.UTC(),
			HasAttachments: content.HasAttachments(),
		},
	}
	var companyID int64
	if company != nil {
		companyID = company.ID
		upd.Email.CompanyID = &company.ID
	}

	// Attachment bytes only hit disk once the message is a confirmed update,
	// so spam never lands in the archive.
	for _, a := range content.Attachments {
		path, size, err := c.writeAttachment(companyID, content.Date, a)
		if err != nil {
			summary.Failures++
			zap.L().Warn("collector: attachment write failed",
				zap.String("filename", a.Filename),
				zap.Error(err),
			)
			continue
		}
		upd.Attachments = append(upd.Attachments, model.Attachment{
			CompanyID: companyID,
			Filename:  a.Filename,
			Path:      path,
			FileSize:  size,
			Category:  a.Category,
		})
		if a.TextErr != "" {
			upd.Audits = append(upd.Audits, model.MetricExtraction{
				SourceFile:   a.Filename,
				Status:       model.ExtractionFailed,
				ErrorMessage: a.TextErr,
				ExtractedAt:  c.now().UTC(),
			})
		}
	}

	// Metric extraction only runs on confident verdicts with a resolved
	// company; low-confidence updates are stored for review without burning
	// extraction tokens.
	if verdict.Confident() && company != nil {
		for sourceFile, text := range content.Sources() {
			res := c.extractor.Extract(ctx, company.Name, sourceFile, text)
			usage.Add(res.Usage)
			if res.Metrics != nil {
				res.Metrics.CompanyID = company.ID
				upd.Metrics = append(upd.Metrics, *res.Metrics)
			}
			upd.Audits = append(upd.Audits, res.Audit)
		}
	}

	if !c.DryRun {
		if err := c.store.SaveUpdate(ctx, upd); err != nil {
			summary.Failures++
			zap.L().Warn("collector: save failed",
				zap.String("subject", content.Subject),
				zap.String("fingerprint", fp),
				zap.Error(err),
			)
			return
		}
	}

	summary.NewEmails++
	summary.NewAttachments += len(upd.Attachments)
	summary.NewMetrics += len(upd.Metrics)
	zap.L().Info("collector: update stored",
		zap.String("company", verdict.CompanyName),
		zap.String("subject", content.Subject),
		zap.Float64("confidence", verdict.Confidence),
		zap.Int("attachments", len(upd.Attachments)),
		zap.Int("metrics", len(upd.Metrics)),
		zap.Bool("dry_run", c.DryRun),
	)
}

// resolveCompany maps a verdict onto a company row, creating one for names
// not on the roster yet. Returns nil when the verdict named no company or
// when an unknown name arrives below the confidence gate.
func (c *Collector) resolveCompany(ctx context.Context, verdict model.Verdict, companies *[]model.Company, summary *model.RunSummary) *model.Company {
	if verdict.CompanyName == "" {
		return nil
	}

	if match, ok := classify.MatchCompany(verdict.CompanyName, *companies); ok {
		return &match
	}

	// Only confident verdicts mint rows; a low-confidence guess at an
	// unknown name stays unlinked for review.
	if !verdict.Confident() {
		return nil
	}

	// New names always start non-portfolio. Portfolio status is granted by
	// the roster import, never by the model.
	co := model.Company{
		Name:        verdict.CompanyName,
		IsPortfolio: false,
	}
	if c.DryRun {
		summary.NewCompanies++
		// A provisional in-memory row keeps downstream gating and counts
		// identical to a real run.
		*companies = append(*companies, co)
		zap.L().Info("collector: would create company", zap.String("name", co.Name))
		return &co
	}

	created, err := c.store.CreateCompany(ctx, co)
	if err != nil {
		// Lost a race or normalization collision: fall back to lookup.
		if existing, lookupErr := c.store.GetCompanyByName(ctx, co.Name); lookupErr == nil && existing != nil {
			*companies = append(*companies, *existing)
			return existing
		}
		zap.L().Warn("collector: create company failed", zap.String("name", co.Name), zap.Error(err))
		return nil
	}

	summary.NewCompanies++
	*companies = append(*companies, *created)
	zap.L().Info("collector: new company observed",
		zap.String("name", created.Name),
		zap.Bool("is_portfolio", created.IsPortfolio),
	)
	return created
}
