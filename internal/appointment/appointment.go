// Package appointment creates meeting appointments and their shareable links
package appointment

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/navikt/zconf/internal/ident"
	"github.com/navikt/zconf/internal/models"
)

// DefaultTitle is used when an appointment is created without a title
const DefaultTitle = "My Appointment"

// Service creates appointments
type Service struct {
	ids ident.Generator
	now func() time.Time
}

// NewService creates an appointment service drawing codes from ids
func NewService(ids ident.Generator) *Service {
	return &Service{
		ids: ids,
		now: time.Now,
	}
}

// WithClock replaces the clock used to fill in a missing scheduled time
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateMeeting assigns a fresh code to the draft and fills in its defaults
func (s *Service) CreateMeeting(draft models.Appointment) models.Appointment {
	appt := draft
	appt.Code = s.ids.MeetingCode()

	// Title and creator are carried into the link exactly as entered
	if appt.Title == "" {
		appt.Title = DefaultTitle
	}

	if appt.Time.IsZero() {
		appt.Time = s.now()
	}
	appt.Time = appt.Time.Truncate(time.Second)

	return appt
}

// Link returns the shareable conference link for an appointment
func Link(origin string, appt models.Appointment) string {
	return strings.TrimRight(origin, "/") + "/conference/" + strconv.Itoa(appt.Code) +
		"?details=" + EncodeDetails(appt.Details())
}

// EncodeDetails encodes meeting details for the details query parameter
func EncodeDetails(details string) string {
	return base64.StdEncoding.EncodeToString([]byte(details))
}

// DecodeDetails decodes a details query parameter. Absent or malformed values yield "".
func DecodeDetails(raw string) string {
	if raw == "" {
		return ""
	}

	// A "+" in an unescaped query string arrives as a space
	raw = strings.ReplaceAll(raw, " ", "+")

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// DetailsFromQuery extracts and decodes the details parameter of a query string
func DetailsFromQuery(values url.Values) string {
	return DecodeDetails(values.Get("details"))
}
