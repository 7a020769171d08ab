package appointment

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/navikt/zconf/internal/ident"
	"github.com/navikt/zconf/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMeeting(t *testing.T) {
	fixedNow := time.Date(2026, 10, 18, 9, 30, 15, 500, time.UTC)
	svc := NewService(ident.Fixed{Code: 54321}).WithClock(func() time.Time { return fixedNow })

	t.Run("defaults title and time", func(t *testing.T) {
		appt := svc.CreateMeeting(models.Appointment{})

		assert.Equal(t, 54321, appt.Code)
		assert.Equal(t, DefaultTitle, appt.Title)
		assert.Equal(t, fixedNow.Truncate(time.Second), appt.Time)
	})

	t.Run("keeps provided values", func(t *testing.T) {
		when := time.Date(2026, 11, 1, 14, 0, 0, 0, time.UTC)
		appt := svc.CreateMeeting(models.Appointment{Title: "Standup", Creator: "Alice", Time: when})

		assert.Equal(t, "Standup", appt.Title)
		assert.Equal(t, "Alice", appt.Creator)
		assert.Equal(t, when, appt.Time)
	})

	t.Run("whitespace is kept as entered", func(t *testing.T) {
		appt := svc.CreateMeeting(models.Appointment{Title: "   ", Creator: " "})
		assert.Equal(t, "   ", appt.Title)
		assert.Equal(t, " ", appt.Creator)
		assert.Equal(t, "    -  ", appt.Details())
	})
}

func TestCreateMeetingCodeRange(t *testing.T) {
	svc := NewService(ident.NewRandomGenerator())

	for i := 0; i < 5000; i++ {
		appt := svc.CreateMeeting(models.Appointment{})
		assert.GreaterOrEqual(t, appt.Code, 11111)
		assert.LessOrEqual(t, appt.Code, 99999)
	}
}

func TestLink(t *testing.T) {
	appt := models.Appointment{Code: 12345, Title: "Standup", Creator: "Alice"}

	link := Link("https://meet.example.com", appt)
	expected := "https://meet.example.com/conference/12345?details=" +
		base64.StdEncoding.EncodeToString([]byte("Standup - Alice"))
	assert.Equal(t, expected, link)

	t.Run("trailing slash on origin", func(t *testing.T) {
		assert.Equal(t, expected, Link("https://meet.example.com/", appt))
	})

	t.Run("without creator", func(t *testing.T) {
		appt.Creator = ""
		assert.True(t, strings.HasSuffix(Link("http://localhost:8080", appt),
			"?details="+base64.StdEncoding.EncodeToString([]byte("Standup"))))
	})
}

func TestLinkRoundTrip(t *testing.T) {
	tests := []struct {
		title   string
		creator string
		want    string
	}{
		{title: "Standup", creator: "Alice", want: "Standup - Alice"},
		{title: "Retro", creator: "", want: "Retro"},
		{title: "Planung für Q4?", creator: "Jørgen", want: "Planung für Q4? - Jørgen"},
		{title: ">>>", creator: "c", want: ">>> - c"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			link := Link("http://localhost:8080", models.Appointment{Code: 11111, Title: tt.title, Creator: tt.creator})

			u, err := url.Parse(link)
			require.NoError(t, err)
			assert.Equal(t, "/conference/11111", u.Path)
			assert.Equal(t, tt.want, DetailsFromQuery(u.Query()))
		})
	}
}

func TestCreatedLinkCarriesDetailsAsEntered(t *testing.T) {
	svc := NewService(ident.Fixed{Code: 24680})

	tests := []struct {
		name  string
		draft models.Appointment
		want  string
	}{
		{name: "surrounding whitespace", draft: models.Appointment{Title: " Standup ", Creator: "Alice "}, want: " Standup  - Alice "},
		{name: "blank creator keeps separator", draft: models.Appointment{Title: "Retro", Creator: "  "}, want: "Retro -   "},
		{name: "empty title", draft: models.Appointment{Creator: "Bob"}, want: DefaultTitle + " - Bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := Link("https://meet.example.com", svc.CreateMeeting(tt.draft))

			u, err := url.Parse(link)
			require.NoError(t, err)
			assert.Equal(t, tt.want, DetailsFromQuery(u.Query()))
		})
	}
}

func TestDecodeDetails(t *testing.T) {
	assert.Equal(t, "", DecodeDetails(""))
	assert.Equal(t, "", DecodeDetails("%%%not-base64"))
	assert.Equal(t, "Standup - Alice", DecodeDetails(EncodeDetails("Standup - Alice")))

	// "+" turned into a space by an unescaped query string
	encoded := EncodeDetails(">>> - c")
	require.Contains(t, encoded, "+")
	assert.Equal(t, ">>> - c", DecodeDetails(strings.ReplaceAll(encoded, "+", " ")))
}
