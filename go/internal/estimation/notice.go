package estimation

import "fmt"

// NoticeKind classifies user-facing notifications raised while folding changes.
type NoticeKind string

const (
	NoticeConnected    NoticeKind = "connected"
	NoticeDisconnected NoticeKind = "disconnected"
	NoticeJoined       NoticeKind = "joined"
	NoticeLeft         NoticeKind = "left"
	NoticeSubmitted    NoticeKind = "submitted"
	NoticeChanged      NoticeKind = "changed"
	NoticeRevealed     NoticeKind = "revealed"
	NoticeHidden       NoticeKind = "hidden"
	NoticeRoundReset   NoticeKind = "round_reset"
	NoticeOwnSubmitted NoticeKind = "own_submitted"
	NoticeOwnChanged   NoticeKind = "own_changed"
	NoticeError        NoticeKind = "error"
)

// Notice is a single notification. UserName is the participant the notice is about.
type Notice struct {
	Kind     NoticeKind
	UserName string
	Previous string
	Value    string
	Err      error
}

func (n Notice) String() string {
	switch n.Kind {
	case NoticeConnected:
		return "Connected to real-time updates"
	case NoticeDisconnected:
		return "Real-time connection lost, reconnecting"
	case NoticeJoined:
		return fmt.Sprintf("%s joined the session", n.UserName)
	case NoticeLeft:
		return fmt.Sprintf("%s left the session", n.UserName)
	case NoticeSubmitted:
		return fmt.Sprintf("%s submitted their estimate", n.UserName)
	case NoticeChanged:
		return fmt.Sprintf("%s changed their estimate", n.UserName)
	case NoticeRevealed:
		return "Cards have been revealed!"
	case NoticeHidden:
		return "Cards hidden - you can change your estimate"
	case NoticeRoundReset:
		return "Ready for next estimation round!"
	case NoticeOwnSubmitted:
		return fmt.Sprintf("Estimate submitted: %s", n.Value)
	case NoticeOwnChanged:
		return fmt.Sprintf("Changed estimate from %s to %s", n.Previous, n.Value)
	case NoticeError:
		if n.Err != nil {
			return n.Err.Error()
		}
		return "Something went wrong"
	}
	return string(n.Kind)
}

// Notifier receives notices. Implementations must not call back into the engine.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}
