package empathy

import (
	"errors"
	"strings"
)

// Intensity controls how blunt the generated comment may be.
type Intensity string

const (
	IntensitySoft   Intensity = "soft"
	IntensityMedium Intensity = "medium"
	IntensityHard   Intensity = "hard"
)

// ErrInvalidIntensity is returned for values outside soft/medium/hard.
var ErrInvalidIntensity = errors.New("empathy: invalid intensity")

// Intensities lists the supported intensities in ascending bluntness.
func Intensities() []Intensity {
	return []Intensity{IntensitySoft, IntensityMedium, IntensityHard}
}

// ParseIntensity validates client input. Blank input selects medium.
func ParseIntensity(raw string) (Intensity, error) {
	switch Intensity(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return IntensityMedium, nil
	case IntensitySoft:
		return IntensitySoft, nil
	case IntensityMedium:
		return IntensityMedium, nil
	case IntensityHard:
		return IntensityHard, nil
	default:
		return "", ErrInvalidIntensity
	}
}

func (i Intensity) orDefault() Intensity {
	switch i {
	case IntensitySoft, IntensityHard:
		return i
	default:
		return IntensityMedium
	}
}

const outputContract = `You are a friend who sincerely empathises with the user's feelings.
The user sends you a diary entry about their day. Reply ONLY with a JSON object of exactly this shape:
{
  "emotion": "<the dominant emotion as one short lowercase word>",
  "comment": "<an emotional, empathetic reaction in the tone described below>",
  "keywords": ["<key topics of the entry>"],
  "feedback": "<constructive advice that helps the user reinterpret or handle the situation>"
}
Write the feedback as a gentle suggestion, never as a lecture. The comment is emotional, the feedback is rational.
Do not wrap the JSON in markdown and do not add any other text.
`

// SystemInstruction builds the system prompt for the intensity.
func SystemInstruction(intensity Intensity) string {
	var tone string
	switch intensity.orDefault() {
	case IntensitySoft:
		tone = "Keep the comment gentle and soft, with almost no profanity."
	case IntensityHard:
		tone = "Make the comment blunt and rough; profanity is allowed."
	default:
		tone = "Write the comment like a moderately irritated friend who is firmly on the user's side."
	}
	return outputContract + tone
}
