package alert

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// LogVisual renders notifications into the structured log. It is the
// fallback visual channel for the headless coordinator.
type LogVisual struct{}

func (LogVisual) Notify(title, body string) error {
	log.Info().Str("title", title).Msg(body)
	return nil
}

// CommandSpeaker shells out to a text-to-speech binary ("say" on macOS,
// "espeak" on most Linux setups). NewCommandSpeaker returns nil when no
// engine is installed; the dispatcher treats a nil sink as an absent
// capability.
type CommandSpeaker struct {
	bin string
}

func NewCommandSpeaker() *CommandSpeaker {
	for _, bin := range []string{"say", "espeak"} {
		if path, err := exec.LookPath(bin); err == nil {
			return &CommandSpeaker{bin: path}
		}
	}
	return nil
}

func (s *CommandSpeaker) Say(text string) error {
	if err := exec.Command(s.bin, text).Run(); err != nil {
		return fmt.Errorf("speech command: %w", err)
	}
	return nil
}
