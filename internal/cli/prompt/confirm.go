// Package prompt provides interactive terminal prompts for hostctl and
// hostd.
package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted (Ctrl+C).
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, ErrAborted)
}

// Confirm asks a yes/no question. Any answer other than y or yes is a
// no; Ctrl+C returns ErrAborted.
func Confirm(label string) (bool, error) {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	default:
		return false, err
	}
}

// ConfirmWithForce returns true immediately if force is true,
// otherwise prompts for confirmation.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label)
}

// ConfirmName requires the user to type name back, for destructive
// operations.
func ConfirmName(label, name string) (bool, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s (type '%s' to confirm)", label, name),
		Validate: func(input string) error {
			if input != name {
				return fmt.Errorf("type '%s' to confirm", name)
			}
			return nil
		},
	}

	result, err := p.Run()
	if err != nil {
		if IsAborted(err) {
			return false, ErrAborted
		}
		return false, err
	}
	return result == name, nil
}
