package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

// InputKind classifies an operator text.
type InputKind int

const (
	InputUnknown InputKind = iota
	InputNumber
	InputBegin
	InputFinish
	InputCancel
	InputNoWater
)

// Input is a parsed operator message.
type Input struct {
	Kind   InputKind
	Number float64
	Raw    string
}

// Keyboard labels offered with every prompt.
const (
	ButtonSendRecommendation = "Send recommendation"
	ButtonNoWater            = "No water"
	ButtonSaveData           = "Save data"
)

var defaultKeyboard = []string{ButtonSendRecommendation, ButtonNoWater, ButtonSaveData}

var numberRe = regexp.MustCompile(`^\s*([-+]?\d+(?:[.,]\d+)?)\s*(cm|m3|m³|mm)?\s*$`)

// ParseInput recognises commands, keyboard labels and numbers (a decimal
// comma and a trailing unit are accepted). Anything else is InputUnknown.
func ParseInput(text string) Input {
	in := Input{Raw: text}
	norm := strings.ToLower(strings.TrimSpace(text))
	switch norm {
	case "/start", strings.ToLower(ButtonSendRecommendation):
		in.Kind = InputBegin
		return in
	case "/save", strings.ToLower(ButtonSaveData):
		in.Kind = InputFinish
		return in
	case "/cancel":
		in.Kind = InputCancel
		return in
	case strings.ToLower(ButtonNoWater):
		in.Kind = InputNoWater
		return in
	}
	m := numberRe.FindStringSubmatch(norm)
	if m == nil {
		return in
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return in
	}
	in.Kind = InputNumber
	in.Number = v
	return in
}
