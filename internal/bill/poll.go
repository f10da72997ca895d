package bill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/bill-pay/internal/iban"
	"github.com/zombor/bill-pay/internal/intake"
	"github.com/zombor/bill-pay/internal/money"
	"github.com/zombor/bill-pay/internal/notify"
)

// PollResult summarizes one intake run.
type PollResult struct {
	NewAssets       int      `json:"new_assets"`
	GroupsProcessed int      `json:"groups_processed"`
	BillsCreated    int      `json:"bills_created"`
	Duplicates      int      `json:"duplicates"`
	Errors          []string `json:"errors,omitempty"`
	Bills           []Bill   `json:"bills"`
	AuthWarning     string   `json:"auth_warning,omitempty"`
}

// Poll lists new source assets, groups them into documents, extracts payment
// data and creates pending bills. Groups fail independently; one unreadable
// invoice never blocks the rest.
func (s *Service) Poll(ctx context.Context) (*PollResult, error) {
	health, err := s.source.AuthHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking source auth: %w", err)
	}

	result := &PollResult{Bills: []Bill{}}
	switch health.Status {
	case intake.AuthExpired, intake.AuthMissing:
		s.notify(ctx, notify.AuthAlert(health.Message))
		return nil, fmt.Errorf("source authentication %s: %s", health.Status, health.Message)
	case intake.AuthExpiring:
		result.AuthWarning = health.Message
		s.notify(ctx, notify.AuthAlert(health.Message))
	}

	assets, err := s.source.ListNewAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing new assets: %w", err)
	}
	result.NewAssets = len(assets)
	if len(assets) == 0 {
		return result, nil
	}

	groups := intake.GroupByTime(assets, s.cfg.GroupWindow)
	slog.Info("Processing new assets", "assets", len(assets), "groups", len(groups))

	var created []Bill
	var consumedIDs []string
	for _, group := range groups {
		result.GroupsProcessed++

		bill, consumed, err := s.processGroup(ctx, group)
		if err != nil {
			slog.Error("Group processing failed", "assets", assetIDs(group), "error", err)
			result.Errors = append(result.Errors, err.Error())
			if consumed {
				s.notify(ctx, notify.ParseError(group[0].Filename, err.Error()))
			}
		}
		if bill != nil {
			created = append(created, *bill)
			if bill.DuplicateWarning {
				result.Duplicates++
			}
		}
		if consumed {
			consumedIDs = append(consumedIDs, assetIDs(group)...)
		}
	}

	if len(created) > 0 {
		err := s.store.Update(func(doc *Document) error {
			doc.Pending = append(doc.Pending, created...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("saving bills: %w", err)
		}
	}
	result.BillsCreated = len(created)
	result.Bills = created

	// Assets are consumed only after the bills are safely on disk; a failed
	// save leaves everything unprocessed for the next poll.
	for _, id := range consumedIDs {
		if err := s.source.MarkProcessed(id); err != nil {
			slog.Warn("Could not mark asset processed", "asset", id, "error", err)
		}
	}

	if s.cfg.BackupDir != "" {
		if _, err := s.store.Backup(s.cfg.BackupDir, s.cfg.BackupRetention, s.clock.Now()); err != nil {
			slog.Warn("State backup failed", "error", err)
		}
	}

	for _, b := range created {
		s.notify(ctx, notify.NewBill(b.ID, b.Recipient, b.Amount, b.IBAN, b.Reference, b.ReviewFlags()))
	}
	s.notify(ctx, notify.PollSummary(result.BillsCreated, result.Duplicates, len(result.Errors)))

	return result, nil
}

// processGroup turns one asset group into a pending bill. consumed reports
// whether the assets are spent: extraction and validation failures consume
// them (retrying cannot help), download or ledger failures do not.
func (s *Service) processGroup(ctx context.Context, group []intake.Asset) (*Bill, bool, error) {
	pages := make([][]byte, 0, len(group))
	contentTypes := make([]string, 0, len(group))
	for _, asset := range group {
		data, err := s.source.Download(ctx, asset)
		if err != nil {
			return nil, false, fmt.Errorf("downloading %s: %w", asset.Filename, err)
		}
		pages = append(pages, data)
		contentTypes = append(contentTypes, asset.MimeType)
	}

	draft, err := s.extract(ctx, group, pages, contentTypes)
	if err != nil {
		return nil, true, err
	}

	draft.IBAN = iban.Normalize(draft.IBAN)
	if err := draft.Validate(); err != nil {
		return nil, true, err
	}

	if draft.BIC == "" {
		bank, err := s.banks.Lookup(ctx, draft.IBAN)
		if err != nil {
			slog.Warn("Bank lookup failed", "iban", iban.Mask(draft.IBAN), "error", err)
		} else {
			draft.BIC = bank.BIC
		}
	}

	duplicate, err := s.ledger.IsDuplicate(draft.IBAN, draft.Amount, draft.Reference)
	if err != nil {
		return nil, false, fmt.Errorf("checking duplicates: %w", err)
	}
	if !duplicate {
		similar, err := s.ledger.CheckSimilar(draft.IBAN, draft.Amount)
		if err != nil {
			return nil, false, fmt.Errorf("checking similar payments: %w", err)
		}
		duplicate = len(similar) > 0
	}

	draft.ID = s.ids.Generate()
	draft.CreatedAt = s.clock.Now()
	draft.Status = StatusPending
	draft.DuplicateWarning = duplicate
	draft.LowConfidence = draft.Confidence < s.cfg.ConfidenceThreshold
	return draft, true, nil
}

// extract tries the structured payment code on each raster image first, then
// hands the whole group to the vision backend.
func (s *Service) extract(ctx context.Context, group []intake.Asset, pages [][]byte, contentTypes []string) (*Bill, error) {
	for i, asset := range group {
		if !decodableImage(asset.MimeType) {
			continue
		}
		decoded, err := s.decoder.DecodeImage(pages[i])
		if err != nil {
			slog.Warn("Code detection failed, falling back to vision", "asset", asset.Filename, "error", err)
			continue
		}
		if decoded != nil {
			slog.Info("Decoded payment code", "asset", asset.Filename, "recipient", decoded.Recipient)
			return &Bill{
				Recipient:  decoded.Recipient,
				IBAN:       decoded.IBAN,
				BIC:        decoded.BIC,
				Amount:     decoded.Amount,
				Currency:   decoded.Currency,
				Reference:  decoded.PaymentReference(),
				Source:     SourceGirocode,
				AssetIDs:   assetIDs(group),
				Confidence: 1.0,
			}, nil
		}
	}

	invoice, err := s.scanner.ScanInvoice(pages, contentTypes)
	if err != nil {
		return nil, fmt.Errorf("extracting invoice data: %w", err)
	}
	if invoice.IBAN == "" && invoice.Recipient == "" {
		return nil, fmt.Errorf("no payment data found in %s", group[0].Filename)
	}

	return &Bill{
		Recipient:     invoice.Recipient,
		IBAN:          invoice.IBAN,
		BIC:           invoice.BIC,
		Amount:        money.FromFloat(invoice.Amount),
		Currency:      invoice.Currency,
		Reference:     invoice.Reference,
		DueDate:       invoice.DueDate,
		InvoiceNumber: invoice.InvoiceNumber,
		Description:   invoice.Description,
		OriginalText:  invoice.OriginalText,
		Translation:   invoice.Translation,
		Source:        SourceVision,
		AssetIDs:      assetIDs(group),
		Confidence:    invoice.OverallConfidence(),
	}, nil
}

// decodableImage reports whether the QR detector can read the format.
// PDFs and HEIC photos go straight to vision.
func decodableImage(mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	if !strings.HasPrefix(mimeType, "image/") {
		return false
	}
	return !strings.Contains(mimeType, "heic") && !strings.Contains(mimeType, "heif")
}

func assetIDs(group []intake.Asset) []string {
	ids := make([]string, 0, len(group))
	for _, asset := range group {
		ids = append(ids, asset.ID)
	}
	return ids
}
