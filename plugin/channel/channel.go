// Package channel defines the outbound messaging gateway the engine sends
// replies through, the payload variants channels can carry, and the
// credential and webhook-signature primitives shared by adapters.
package channel

import (
	"context"
	"fmt"
	"sync"
)

// Format limits shared across channels. Adapters may be stricter, never
// looser.
const (
	MaxButtons        = 3
	MaxListRows       = 10
	MaxTitleLength    = 60
	MaxBodyLength     = 1024
	MaxButtonLabel    = 20
	MaxRowTitleLength = 24
	MaxRowDescription = 72
	MaxCaptionLength  = 1024
)

// Payload is one outbound message variant.
type Payload interface {
	Kind() string
}

// TextPayload is a plain text message.
type TextPayload struct {
	Text string
}

func (TextPayload) Kind() string { return "text" }

// Button is one tappable option.
type Button struct {
	ID    string
	Label string
}

// ButtonPayload is a message with up to MaxButtons quick replies.
type ButtonPayload struct {
	Text    string
	Buttons []Button
}

func (ButtonPayload) Kind() string { return "buttons" }

// ListRow is one row of a list message.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// ListPayload is a sectioned pick-list of up to MaxListRows rows.
type ListPayload struct {
	Title string
	Body  string
	Rows  []ListRow
}

func (ListPayload) Kind() string { return "list" }

// MediaPayload is an image or document by URL with an optional caption.
type MediaPayload struct {
	URL      string
	Caption  string
	MIMEType string
}

func (MediaPayload) Kind() string { return "media" }

// Receipt identifies a message accepted by the channel provider.
type Receipt struct {
	ProviderMessageID string
	SentTs            int64
}

// SendError wraps a channel delivery failure. Transient failures may be
// retried; permanent ones advance the message to failed.
type SendError struct {
	Transient bool
	Err       error
}

func (e *SendError) Error() string {
	state := "permanent"
	if e.Transient {
		state = "transient"
	}
	return fmt.Sprintf("channel send failed (%s): %v", state, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Gateway transmits one payload to one recipient. creds is the tenant's
// decrypted channel credential blob; its shape is adapter-specific.
type Gateway interface {
	Name() string
	Send(ctx context.Context, creds []byte, to string, payload Payload) (*Receipt, error)
}

// Validate enforces the shared format limits on a payload.
func Validate(p Payload) error {
	switch v := p.(type) {
	case TextPayload, *TextPayload:
		return nil
	case ButtonPayload:
		return validateButtons(&v)
	case *ButtonPayload:
		return validateButtons(v)
	case ListPayload:
		return validateList(&v)
	case *ListPayload:
		return validateList(v)
	case MediaPayload:
		return validateMedia(&v)
	case *MediaPayload:
		return validateMedia(v)
	default:
		return fmt.Errorf("unrecognized payload kind %q", p.Kind())
	}
}

func validateButtons(p *ButtonPayload) error {
	if len(p.Buttons) == 0 || len(p.Buttons) > MaxButtons {
		return fmt.Errorf("button count %d outside [1,%d]", len(p.Buttons), MaxButtons)
	}
	if len([]rune(p.Text)) > MaxBodyLength {
		return fmt.Errorf("button message body exceeds %d characters", MaxBodyLength)
	}
	for _, b := range p.Buttons {
		if b.Label == "" || len([]rune(b.Label)) > MaxButtonLabel {
			return fmt.Errorf("button label %q outside [1,%d] characters", b.Label, MaxButtonLabel)
		}
	}
	return nil
}

func validateList(p *ListPayload) error {
	if len(p.Rows) == 0 || len(p.Rows) > MaxListRows {
		return fmt.Errorf("list row count %d outside [1,%d]", len(p.Rows), MaxListRows)
	}
	if len([]rune(p.Title)) > MaxTitleLength {
		return fmt.Errorf("list title exceeds %d characters", MaxTitleLength)
	}
	if len([]rune(p.Body)) > MaxBodyLength {
		return fmt.Errorf("list body exceeds %d characters", MaxBodyLength)
	}
	for _, row := range p.Rows {
		if row.Title == "" || len([]rune(row.Title)) > MaxRowTitleLength {
			return fmt.Errorf("list row title %q outside [1,%d] characters", row.Title, MaxRowTitleLength)
		}
		if len([]rune(row.Description)) > MaxRowDescription {
			return fmt.Errorf("list row description exceeds %d characters", MaxRowDescription)
		}
	}
	return nil
}

func validateMedia(p *MediaPayload) error {
	if p.URL == "" {
		return fmt.Errorf("media payload requires a URL")
	}
	if len([]rune(p.Caption)) > MaxCaptionLength {
		return fmt.Errorf("media caption exceeds %d characters", MaxCaptionLength)
	}
	return nil
}

// FakeSend records one Send call on the Fake gateway.
type FakeSend struct {
	To      string
	Payload Payload
}

// Fake is a recording gateway for tests and dev mode.
type Fake struct {
	mu    sync.Mutex
	sends []FakeSend

	// NextErr, when set, fails the next Send and clears itself.
	NextErr error
	seq     int
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Send(_ context.Context, _ []byte, to string, payload Payload) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.NextErr != nil {
		err := f.NextErr
		f.NextErr = nil
		return nil, err
	}
	f.sends = append(f.sends, FakeSend{To: to, Payload: payload})
	f.seq++
	return &Receipt{ProviderMessageID: fmt.Sprintf("fake-%d", f.seq)}, nil
}

// Sends returns a copy of the recorded calls.
func (f *Fake) Sends() []FakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeSend, len(f.sends))
	copy(out, f.sends)
	return out
}
