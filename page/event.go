package page

import "time"

// Trigger names what caused a navigation transition.
type Trigger string

const (
	TriggerInitial        Trigger = "initial"
	TriggerAnchorWait     Trigger = "anchor-wait"
	TriggerNewTab         Trigger = "new-tab"
	TriggerIframeDescend  Trigger = "iframe-descend"
	TriggerDomainRedirect Trigger = "domain-redirect"
	TriggerLoginDetected  Trigger = "login-detected"
	TriggerCaptcha        Trigger = "captcha-detected"
	TriggerResume         Trigger = "resume"
	TriggerReclassify     Trigger = "reclassify"
)

// Outcome is the result of a transition.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeParked    Outcome = "parked"
	OutcomeEscalated Outcome = "escalated"
	OutcomeCancelled Outcome = "cancelled"
)

// NavigationEvent is one entry of the append-only navigation log. A failed
// transition still produces an event; ToContextID then equals FromContextID
// or is empty when no successor context was created.
type NavigationEvent struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	FromContextID string    `json:"from_context_id"`
	ToContextID   string    `json:"to_context_id"`
	Trigger       Trigger   `json:"trigger"`
	Outcome       Outcome   `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
	FromURL       string    `json:"from_url,omitempty"`
	ToURL         string    `json:"to_url,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
