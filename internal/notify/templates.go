package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

// BookingDetails feeds the booking email templates
type BookingDetails struct {
	BookingID   string
	Name        string
	Email       string
	Start       time.Time
	End         time.Time
	Timezone    string
	MeetingType string
	Notes       string
	MeetingLink string
	EventLink   string
}

type view struct {
	BookingDetails
	When     string
	Duration int
}

func newView(d BookingDetails) view {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil || d.Timezone == "" {
		loc = time.UTC
	}
	return view{
		BookingDetails: d,
		When:           d.Start.In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST"),
		Duration:       int(d.End.Sub(d.Start).Minutes()),
	}
}

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation").Parse(`<p>Hi {{.Name}},</p>
<p>Your {{.Duration}}-minute {{if .MeetingType}}{{.MeetingType}} {{end}}meeting is confirmed for <strong>{{.When}}</strong>.</p>
{{if .MeetingLink}}<p>Join: <a href="{{.MeetingLink}}">{{.MeetingLink}}</a></p>{{end}}
<p>Reply to this email if you need to reschedule.</p>`))

var confirmationText = texttemplate.Must(texttemplate.New("confirmation").Parse(`Hi {{.Name}},

Your {{.Duration}}-minute {{if .MeetingType}}{{.MeetingType}} {{end}}meeting is confirmed for {{.When}}.
{{if .MeetingLink}}
Join: {{.MeetingLink}}
{{end}}
Reply to this email if you need to reschedule.
`))

var ownerHTML = htmltemplate.Must(htmltemplate.New("owner").Parse(`<p>New booking from <strong>{{.Name}}</strong> ({{.Email}}).</p>
<ul>
<li>When: {{.When}}</li>
<li>Duration: {{.Duration}} minutes</li>
{{if .MeetingType}}<li>Type: {{.MeetingType}}</li>{{end}}
{{if .Notes}}<li>Notes: {{.Notes}}</li>{{end}}
{{if .BookingID}}<li>Booking: {{.BookingID}}</li>{{end}}
</ul>
{{if .EventLink}}<p><a href="{{.EventLink}}">Open in calendar</a></p>{{end}}`))

var ownerText = texttemplate.Must(texttemplate.New("owner").Parse(`New booking from {{.Name}} ({{.Email}})
When: {{.When}}
Duration: {{.Duration}} minutes
{{if .MeetingType}}Type: {{.MeetingType}}
{{end}}{{if .Notes}}Notes: {{.Notes}}
{{end}}{{if .EventLink}}Calendar: {{.EventLink}}
{{end}}`))

// ConfirmationMessage renders the requester's confirmation
func ConfirmationMessage(from string, d BookingDetails) (Message, error) {
	v := newView(d)
	html, text, err := render(confirmationHTML, confirmationText, v)
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    from,
		To:      d.Email,
		Subject: "Your meeting is confirmed: " + v.When,
		HTML:    html,
		Text:    text,
		Tag:     "confirmation",
	}, nil
}

// OwnerMessage renders the owner's new-booking notice, with the requester as reply-to
func OwnerMessage(from, owner string, d BookingDetails) (Message, error) {
	v := newView(d)
	html, text, err := render(ownerHTML, ownerText, v)
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    from,
		To:      owner,
		ReplyTo: d.Email,
		Subject: fmt.Sprintf("New booking: %s, %s", d.Name, v.When),
		HTML:    html,
		Text:    text,
		Tag:     "owner:" + d.Start.UTC().Format(time.RFC3339),
	}, nil
}

func render(h *htmltemplate.Template, t *texttemplate.Template, v view) (string, string, error) {
	var hb, tb bytes.Buffer
	if err := h.Execute(&hb, v); err != nil {
		return "", "", fmt.Errorf("render %s html: %w", h.Name(), err)
	}
	if err := t.Execute(&tb, v); err != nil {
		return "", "", fmt.Errorf("render %s text: %w", t.Name(), err)
	}
	return hb.String(), tb.String(), nil
}
