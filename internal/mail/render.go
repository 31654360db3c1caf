package mail

import (
	"fmt"
	"html"
	"strings"
)

// churnCopy is the fixed copy for the churn-recovery sequence, by position.
var churnCopy = map[int]struct {
	subject string
	lead    string
	cta     string
}{
	1: {
		subject: "We saved your place",
		lead:    "It has been a while since your last reading. Your plan is right where you left it.",
		cta:     "Pick up where you left off",
	},
	2: {
		subject: "Five minutes is enough",
		lead:    "A short reading today still counts. Many readers restart with a single chapter.",
		cta:     "Read today's chapter",
	},
	3: {
		subject: "One last nudge from us",
		lead:    "This is the last reminder we will send. Whenever you are ready, your plan will be waiting.",
		cta:     "Open your reading plan",
	},
}

// Renderer produces the lifecycle messages.
type Renderer struct {
	baseURL string
}

func NewRenderer(baseURL string) *Renderer {
	return &Renderer{baseURL: strings.TrimRight(baseURL, "/")}
}

// Churn renders the churn-recovery email for a sequence position (1..3).
func (r *Renderer) Churn(position int, name, email string) (*Message, error) {
	c, ok := churnCopy[position]
	if !ok {
		return nil, fmt.Errorf("no churn copy for position %d", position)
	}

	link := r.baseURL + "/today"
	return &Message{
		To:       email,
		ToName:   name,
		Subject:  c.subject,
		Text:     fmt.Sprintf("%s\n\n%s\n\n%s: %s\n", greeting(name), c.lead, c.cta, link),
		HTML:     fmt.Sprintf("<p>%s</p><p>%s</p><p><a href=\"%s\">%s</a></p>", html.EscapeString(greeting(name)), html.EscapeString(c.lead), link, html.EscapeString(c.cta)),
		Category: fmt.Sprintf("churn-%d", position),
	}, nil
}

// Onboarding renders the one-shot nudge for users who signed up but never read.
func (r *Renderer) Onboarding(name, email string) *Message {
	lead := "You signed up yesterday but have not started reading yet. Your first reading takes about five minutes."
	link := r.baseURL + "/plans"
	return &Message{
		To:       email,
		ToName:   name,
		Subject:  "Ready for your first reading?",
		Text:     fmt.Sprintf("%s\n\n%s\n\nStart here: %s\n", greeting(name), lead, link),
		HTML:     fmt.Sprintf("<p>%s</p><p>%s</p><p><a href=\"%s\">Start your first reading</a></p>", html.EscapeString(greeting(name)), html.EscapeString(lead), link),
		Category: "onboarding",
	}
}

func greeting(name string) string {
	if name == "" {
		return "Hi there,"
	}
	return fmt.Sprintf("Hi %s,", name)
}
