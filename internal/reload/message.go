package reload

import (
	"path"
	"strings"
	"time"
)

const (
	TypeReload = "reload"
	TypeCSS    = "css"
)

// Message is the payload pushed to every connected browser.
type Message struct {
	Kind      string    `json:"type"`
	Paths     []string  `json:"paths,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Message) Type() string {
	return m.Kind
}

// NewMessage builds the message for a set of changed paths. When cssInject is
// set and every path is a stylesheet, clients swap stylesheets in place
// instead of reloading the page.
func NewMessage(paths []string, cssInject bool) Message {
	kind := TypeReload
	if cssInject && len(paths) > 0 && allStylesheets(paths) {
		kind = TypeCSS
	}
	return Message{
		Kind:      kind,
		Paths:     append([]string(nil), paths...),
		Timestamp: time.Now().UTC(),
	}
}

func allStylesheets(paths []string) bool {
	for _, changed := range paths {
		if !strings.EqualFold(path.Ext(changed), ".css") {
			return false
		}
	}
	return true
}
