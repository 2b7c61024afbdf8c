package desktop

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-vgo/robotgo"
)

// Input drives the system mouse and keyboard. It implements marketplace.Input.
type Input struct{}

// NewInput returns an input driver.
func NewInput() *Input { return &Input{} }

// MoveClick moves the pointer to (x, y) and left-clicks.
func (in *Input) MoveClick(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	robotgo.Move(x, y)
	robotgo.Click("left", false)
	return nil
}

// TypeText types text character by character.
func (in *Input) TypeText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	robotgo.TypeStr(text)
	return nil
}

// PressKey taps a single named key such as "enter" or "tab".
func (in *Input) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := robotgo.KeyTap(keyName(key)); err != nil {
		return fmt.Errorf("key %s: %w", key, err)
	}
	return nil
}

// Chord taps the last key while holding the preceding ones, e.g. ("ctrl", "a").
func (in *Input) Chord(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	key := keyName(keys[len(keys)-1])
	mods := make([]interface{}, 0, len(keys)-1)
	for _, m := range keys[:len(keys)-1] {
		mods = append(mods, keyName(m))
	}

	if err := robotgo.KeyTap(key, mods...); err != nil {
		return fmt.Errorf("chord %s: %w", strings.Join(keys, "+"), err)
	}
	return nil
}

func keyName(k string) string {
	switch k = strings.ToLower(k); k {
	case "return":
		return "enter"
	case "control":
		return "ctrl"
	case "esc":
		return "escape"
	default:
		return k
	}
}
