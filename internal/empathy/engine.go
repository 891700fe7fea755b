package empathy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// EmotionUnknown tags a reply that could not be parsed into a judgment.
	EmotionUnknown = "unknown"
	// EmotionError tags a failed call to the text generation backend.
	EmotionError = "error"
	// MaxEmotionLength bounds the emotion label in characters; it matches the
	// emotion_tag column width.
	MaxEmotionLength = 64

	defaultTimeout = 30 * time.Second
)

var (
	errEmptyReply       = errors.New("empathy: empty reply")
	errNoJSONObject     = errors.New("empathy: no json object in reply")
	errMissingField     = errors.New("empathy: reply missing required field")
	errTrailingJSONData = errors.New("empathy: trailing data after json object")
	errEmotionTooLong   = errors.New("empathy: emotion label too long")
)

// Generator is the external text generation capability.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, userText string) (string, error)
}

// Judgment is the structured reaction to a diary entry.
type Judgment struct {
	Emotion  string   `json:"emotion"`
	Comment  string   `json:"comment"`
	Feedback string   `json:"feedback"`
	Keywords []string `json:"keywords"`
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Generator Generator
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Engine classifies diary text through a Generator. It never fails: backend
// and parsing problems degrade into sentinel judgments.
type Engine struct {
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEngine validates the configuration and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Generator == nil {
		return nil, errors.New("empathy: generator is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		generator: cfg.Generator,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Classify returns a well-formed Judgment for text written with the given intensity.
func (e *Engine) Classify(ctx context.Context, text string, intensity Intensity) Judgment {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.generator.Generate(callCtx, SystemInstruction(intensity), text)
	if err != nil {
		e.logger.Warn("empathy generation failed",
			zap.String("intensity", string(intensity.orDefault())),
			zap.Error(err))
		return errorJudgment(err)
	}

	judgment, parseErr := ParseJudgment(reply)
	if parseErr != nil {
		e.logger.Warn("empathy reply unparseable",
			zap.String("intensity", string(intensity.orDefault())),
			zap.Int("reply_length", len(reply)),
			zap.Error(parseErr))
		return unknownJudgment(reply)
	}
	return judgment
}

type strictJudgment struct {
	Emotion  *string   `json:"emotion"`
	Comment  *string   `json:"comment"`
	Feedback *string   `json:"feedback"`
	Keywords *[]string `json:"keywords"`
}

// ParseJudgment validates a generator reply against the four-field contract.
func ParseJudgment(reply string) (Judgment, error) {
	payload, err := extractJSONObject(reply)
	if err != nil {
		return Judgment{}, err
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(payload)))
	decoder.DisallowUnknownFields()

	var candidate strictJudgment
	if err := decoder.Decode(&candidate); err != nil {
		return Judgment{}, fmt.Errorf("empathy: decode reply: %w", err)
	}
	if decoder.More() {
		return Judgment{}, errTrailingJSONData
	}

	switch {
	case candidate.Emotion == nil || strings.TrimSpace(*candidate.Emotion) == "":
		return Judgment{}, fmt.Errorf("%w: emotion", errMissingField)
	case candidate.Comment == nil:
		return Judgment{}, fmt.Errorf("%w: comment", errMissingField)
	case candidate.Feedback == nil:
		return Judgment{}, fmt.Errorf("%w: feedback", errMissingField)
	case candidate.Keywords == nil:
		return Judgment{}, fmt.Errorf("%w: keywords", errMissingField)
	}

	emotion := strings.TrimSpace(*candidate.Emotion)
	if utf8.RuneCountInString(emotion) > MaxEmotionLength {
		return Judgment{}, fmt.Errorf("%w: %d characters", errEmotionTooLong, utf8.RuneCountInString(emotion))
	}

	keywords := make([]string, 0, len(*candidate.Keywords))
	for _, keyword := range *candidate.Keywords {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}

	return Judgment{
		Emotion:  emotion,
		Comment:  strings.TrimSpace(*candidate.Comment),
		Feedback: strings.TrimSpace(*candidate.Feedback),
		Keywords: keywords,
	}, nil
}

// extractJSONObject returns the span between the first '{' and the last '}',
// which strips the code fences models like to add.
func extractJSONObject(reply string) (string, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return "", errEmptyReply
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return "", errNoJSONObject
	}
	return trimmed[start : end+1], nil
}

func unknownJudgment(reply string) Judgment {
	return Judgment{
		Emotion:  EmotionUnknown,
		Comment:  strings.TrimSpace(reply),
		Feedback: "",
		Keywords: []string{},
	}
}

func errorJudgment(cause error) Judgment {
	return Judgment{
		Emotion:  EmotionError,
		Comment:  fmt.Sprintf("empathy generation failed: %v", cause),
		Feedback: "",
		Keywords: []string{},
	}
}
