package prompt

import (
	"fmt"

	"github.com/manifoldco/promptui"
)

// Secret prompts for a masked value, rejecting empty input.
func Secret(label string) (string, error) {
	return secret(label, 1)
}

// NewSecret prompts for a secret of at least minLength characters and its
// confirmation.
func NewSecret(label string, minLength int) (string, error) {
	value, err := secret(label, minLength)
	if err != nil {
		return "", err
	}
	confirm, err := secret("Confirm "+label, 1)
	if err != nil {
		return "", err
	}
	if value != confirm {
		return "", fmt.Errorf("%s does not match", label)
	}
	return value, nil
}

func secret(label string, minLength int) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < minLength {
				return fmt.Errorf("must be at least %d characters", minLength)
			}
			return nil
		},
	}

	result, err := p.Run()
	if err != nil && IsAborted(err) {
		return "", ErrAborted
	}
	return result, err
}
