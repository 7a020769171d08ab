package models

import "time"

// Appointment is a meeting invitation as filled in on the appointment form.
// It is never stored; the generated link carries everything needed to join.
type Appointment struct {
	Code    int       `json:"code"`
	Title   string    `json:"title"`
	Creator string    `json:"creator"`
	Time    time.Time `json:"time"`
}

// Details returns the text carried in a link's details parameter
func (a Appointment) Details() string {
	if a.Creator == "" {
		return a.Title
	}
	return a.Title + " - " + a.Creator
}
