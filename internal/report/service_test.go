package report

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnostic-assistant/internal/consultation"
	"diagnostic-assistant/internal/diagnosis"
)

type fakeTelegram struct {
	chatID   int64
	data     []byte
	fileName string
	caption  string
	err      error
}

func (f *fakeTelegram) SendDocument(_ context.Context, chatID int64, data []byte, fileName, caption string) error {
	f.chatID, f.data, f.fileName, f.caption = chatID, data, fileName, caption
	return f.err
}

func completedConsultation(t *testing.T) *consultation.Consultation {
	t.Helper()
	store := consultation.NewMemoryStore()
	pid := uuid.New()
	c, err := store.CreateConsultation(context.Background(), &pid)
	require.NoError(t, err)

	rec := diagnosis.Record{
		PrincipalDiagnosis: diagnosis.Principal{Name: "Pneumonia", Description: "Lower respiratory tract infection with consolidation."},
		DifferentialDiagnoses: []diagnosis.Differential{
			{Name: "Acute bronchitis", Probability: 30, Description: "Airway inflammation without consolidation."},
		},
		Evidence:        diagnosis.Evidence{Symptoms: []string{"Fever 38.5°C", "Productive cough"}},
		Recommendations: diagnosis.Recommendations{Pharmacological: []string{"Amoxicillin 500mg every 8 hours for 7 days"}},
		AdditionalExams: []string{"Chest X-ray"},
	}
	c, err = store.FinalizeDiagnosis(context.Background(), c.ID, rec)
	require.NoError(t, err)
	return c
}

// requireFont skips rendering tests on machines without a usable TTF.
func requireFont(t *testing.T) string {
	t.Helper()
	candidates := append([]string{os.Getenv("REPORT_FONT_PATH")}, DefaultFontPaths...)
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("no TTF font available for PDF rendering")
	return ""
}

func TestRender(t *testing.T) {
	font := requireFont(t)
	svc := NewService(nil, 0, font, zerolog.Nop())

	pdf, err := svc.Render(completedConsultation(t))
	require.NoError(t, err)
	assert.True(t, len(pdf) > 4 && string(pdf[:4]) == "%PDF")
}

func TestRender_NotCompleted(t *testing.T) {
	svc := NewService(nil, 0, "", zerolog.Nop())
	_, err := svc.Render(&consultation.Consultation{ID: uuid.New(), Status: consultation.StatusInProgress})
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRender_MissingFont(t *testing.T) {
	svc := NewService(nil, 0, "", zerolog.Nop())
	svc.fontPaths = []string{"/nonexistent/font.ttf"}
	_, err := svc.Render(completedConsultation(t))
	assert.ErrorContains(t, err, "REPORT_FONT_PATH")
}

func TestNotifyCompleted(t *testing.T) {
	font := requireFont(t)
	tg := &fakeTelegram{}
	svc := NewService(tg, 777, font, zerolog.Nop())
	c := completedConsultation(t)

	require.NoError(t, svc.NotifyCompleted(context.Background(), c))
	assert.Equal(t, int64(777), tg.chatID)
	assert.Equal(t, "report_"+c.ID.String()+".pdf", tg.fileName)
	assert.Contains(t, tg.caption, "Pneumonia")
	assert.NotEmpty(t, tg.data)

	tg.err = errors.New("telegram down")
	assert.ErrorContains(t, svc.NotifyCompleted(context.Background(), c), "telegram down")
}

func TestNotifyCompleted_NotConfigured(t *testing.T) {
	svc := NewService(nil, 0, "", zerolog.Nop())
	assert.NoError(t, svc.NotifyCompleted(context.Background(), &consultation.Consultation{ID: uuid.New()}))
}
