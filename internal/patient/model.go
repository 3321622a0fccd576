package patient

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"diagnostic-assistant/internal/platform/apperr"
)

const birthDateLayout = "2006-01-02"

// Patient is the identity record a consultation belongs to. Only the contact
// fields change after creation.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	BirthDate *string   `json:"birth_date,omitempty"`
	Sex       *string   `json:"sex,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateRequest struct {
	Name      string  `json:"name"`
	BirthDate *string `json:"birth_date"`
	Sex       *string `json:"sex"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
}

// ContactUpdate carries the mutable fields. Nil leaves a field unchanged;
// an empty string clears it.
type ContactUpdate struct {
	Phone *string `json:"phone"`
	Email *string `json:"email"`
}

var validSex = map[string]bool{"female": true, "male": true, "other": true, "unknown": true}

func (r *CreateRequest) Validate() error {
	details := map[string]string{}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		details["name"] = "required"
	}
	if r.BirthDate != nil {
		d, err := time.Parse(birthDateLayout, *r.BirthDate)
		switch {
		case err != nil:
			details["birth_date"] = "must be YYYY-MM-DD"
		case d.After(time.Now()):
			details["birth_date"] = "must not be in the future"
		}
	}
	if r.Sex != nil {
		sex := strings.ToLower(strings.TrimSpace(*r.Sex))
		if !validSex[sex] {
			details["sex"] = "must be one of female, male, other, unknown"
		}
		r.Sex = &sex
	}
	if msg := validateEmail(r.Email); msg != "" {
		details["email"] = msg
	}
	if len(details) > 0 {
		return apperr.Validation("invalid patient", details)
	}
	return nil
}

func (u *ContactUpdate) Validate() error {
	if u.Phone == nil && u.Email == nil {
		return apperr.Validation("phone or email is required", nil)
	}
	if msg := validateEmail(u.Email); msg != "" {
		return apperr.Validation("invalid contact", map[string]string{"email": msg})
	}
	return nil
}

func validateEmail(email *string) string {
	if email == nil || *email == "" {
		return ""
	}
	if _, err := mail.ParseAddress(*email); err != nil {
		return "invalid address"
	}
	return ""
}

// nullIfEmpty turns an explicit empty string into a cleared field.
func nullIfEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
