package control

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// ErrUnknownCommand is returned by ParseCommand for unsupported commands.
var ErrUnknownCommand = errors.New("unknown command")

// Command is an operator request changing the control flags.
type Command int

const (
	Start Command = iota
	Stop
	Save
	NoSave
)

var commandNames = map[Command]string{
	Start:  "start",
	Stop:   "stop",
	Save:   "save",
	NoSave: "nosave",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand maps a command name such as "nosave" to its Command.
func ParseCommand(s string) (Command, error) {
	for c, n := range commandNames {
		if n == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownCommand, s)
}

// Flags is a point in time copy of the control flags.
type Flags struct {
	Capturing bool `json:"capturing"`
	Saving    bool `json:"saving"`
}

// Listener is told about every change of the control flags.
type Listener interface {
	FlagsChanged(Flags)
}

// State holds the capturing and saving flags shared between the HTTP
// handlers and the detection loop. Reads are lock free; every command is
// idempotent and applied atomically.
type State struct {
	capturing atomic.Bool
	saving    atomic.Bool

	// l serializes commands so listeners see changes in order.
	l         sync.Mutex
	listeners []Listener
}

func New(capturing, saving bool) *State {
	s := &State{}
	s.capturing.Store(capturing)
	s.saving.Store(saving)
	return s
}

// AddListener registers l for flag changes.
func (s *State) AddListener(l Listener) {
	s.l.Lock()
	defer s.l.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *State) Capturing() bool { return s.capturing.Load() }
func (s *State) Saving() bool    { return s.saving.Load() }

func (s *State) Flags() Flags {
	return Flags{Capturing: s.Capturing(), Saving: s.Saving()}
}

// Apply executes c and returns the operator facing response text.
func (s *State) Apply(c Command) (string, error) {
	s.l.Lock()
	defer s.l.Unlock()

	var (
		flag *atomic.Bool
		on   bool
		resp string
	)
	switch c {
	case Start:
		flag, on, resp = &s.capturing, true, "System started"
	case Stop:
		flag, on, resp = &s.capturing, false, "System stopped"
	case Save:
		flag, on, resp = &s.saving, true, "Storage of motion videos turned on"
	case NoSave:
		flag, on, resp = &s.saving, false, "Storage of motion videos turned off"
	default:
		return "", fmt.Errorf("%w %v", ErrUnknownCommand, c)
	}

	if flag.Swap(on) != on {
		log.WithField("command", c).Info(resp)
		f := s.Flags()
		for _, l := range s.listeners {
			l.FlagsChanged(f)
		}
	}
	return resp, nil
}
