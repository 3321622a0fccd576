// Package report renders the PDF summary of a completed consultation and
// delivers it to the doctor over Telegram.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"diagnostic-assistant/internal/consultation"
)

// DefaultFontPaths are tried in order after the configured font. DejaVu
// covers Latin and Cyrillic diacritics.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

var ErrNotCompleted = errors.New("consultation has no diagnosis to report")

type TelegramClient interface {
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName, caption string) error
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
	fontPaths    []string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService builds the report service. tg may be nil, in which case
// NotifyCompleted is a no-op. fontPath, when set, is tried first.
func NewService(tg TelegramClient, doctorChatID int64, fontPath string, logger zerolog.Logger) *Service {
	paths := DefaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, DefaultFontPaths...)
	}
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		fontPaths:    paths,
		logger:       logger.With().Str("component", "report").Logger(),
		now:          time.Now,
	}
}

// NotifyCompleted renders the report and sends it to the doctor's chat.
func (s *Service) NotifyCompleted(ctx context.Context, c *consultation.Consultation) error {
	if s.tgClient == nil {
		return nil
	}
	pdf, err := s.Render(c)
	if err != nil {
		return err
	}

	caption := fmt.Sprintf("Consultation %s completed", c.ID)
	if c.PrincipalDiagnosis != nil {
		caption += ": " + *c.PrincipalDiagnosis
	}
	if r := []rune(caption); len(r) > 1024 {
		caption = string(r[:1021]) + "..."
	}

	fileName := fmt.Sprintf("report_%s.pdf", c.ID)
	if err := s.tgClient.SendDocument(ctx, s.doctorChatID, pdf, fileName, caption); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	s.logger.Info().Str("consultation_id", c.ID.String()).Int64("chat_id", s.doctorChatID).Msg("report sent")
	return nil
}

// Render lays out the diagnostic record of a completed consultation on A4
// pages.
func (s *Service) Render(c *consultation.Consultation) ([]byte, error) {
	rec, ok := c.Diagnosis()
	if !ok {
		return nil, ErrNotCompleted
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(pageMargin, pageMargin, pageMargin, pageMargin)
	pdf.AddPage()

	if err := s.loadFont(pdf); err != nil {
		return nil, err
	}
	w := &pageWriter{pdf: pdf}

	w.text("Consultation Report", titleSize, 30)
	w.text(fmt.Sprintf("Date: %s", s.now().Format("02.01.2006 15:04")), bodySize, 15)
	w.text(fmt.Sprintf("Consultation: %s", c.ID), bodySize, 15)
	if c.PatientID != nil {
		w.text(fmt.Sprintf("Patient: %s", c.PatientID), bodySize, 15)
	}
	w.gap(10)

	w.heading("Principal diagnosis")
	w.wrapped(rec.PrincipalDiagnosis.Name)
	if rec.PrincipalDiagnosis.Description != "" {
		w.wrapped(rec.PrincipalDiagnosis.Description)
	}
	w.gap(10)

	w.heading("Differential diagnoses")
	if len(rec.DifferentialDiagnoses) == 0 {
		w.wrapped("- None recorded.")
	}
	for _, d := range rec.DifferentialDiagnoses {
		line := fmt.Sprintf("- %s (%.0f%%)", d.Name, d.Probability)
		if d.Description != "" {
			line += ": " + d.Description
		}
		w.wrapped(line)
	}
	w.gap(10)

	w.heading("Evidence")
	w.list("Symptoms", rec.Evidence.Symptoms)
	w.list("Physical exam findings", rec.Evidence.PhysicalExamFindings)
	w.list("Complementary exam results", rec.Evidence.ComplementaryExamResults)
	w.gap(10)

	w.heading("Recommendations")
	w.list("Pharmacological", rec.Recommendations.Pharmacological)
	w.list("Non-pharmacological", rec.Recommendations.NonPharmacological)
	w.list("Follow-up", rec.Recommendations.FollowUp)
	w.gap(10)

	w.heading("Additional exams")
	w.list("", rec.AdditionalExams)

	w.gap(20)
	w.text("Generated by an automated assistant. Requires review by a physician.", footerSize, 12)

	if w.err != nil {
		return nil, fmt.Errorf("failed to lay out PDF: %w", w.err)
	}
	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) loadFont(pdf *gopdf.GoPdf) error {
	var fontErr error
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont(fontFamily, path); err != nil {
			fontErr = err
			continue
		}
		s.logger.Debug().Str("path", path).Msg("report font loaded")
		return nil
	}
	return fmt.Errorf("failed to load font for PDF, set REPORT_FONT_PATH or install ttf-dejavu: %w", fontErr)
}
