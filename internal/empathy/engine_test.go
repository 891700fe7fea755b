package empathy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubGenerator struct {
	reply      string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (s *stubGenerator) Generate(_ context.Context, systemInstruction, userText string) (string, error) {
	s.calls++
	s.lastSystem = systemInstruction
	s.lastUser = userText
	return s.reply, s.err
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func newTestEngine(t *testing.T, generator Generator) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{Generator: generator, Timeout: time.Second})
	require.NoError(t, err)
	return engine
}

func TestClassifyParsesWellFormedReply(t *testing.T) {
	generator := &stubGenerator{reply: `{"emotion":"frustrated","comment":"ugh, your boss","feedback":"take a walk","keywords":["work","stress"]}`}
	engine := newTestEngine(t, generator)

	judgment := engine.Classify(context.Background(), "rough day at work", IntensityHard)

	assert.Equal(t, Judgment{
		Emotion:  "frustrated",
		Comment:  "ugh, your boss",
		Feedback: "take a walk",
		Keywords: []string{"work", "stress"},
	}, judgment)
	assert.Equal(t, 1, generator.calls)
	assert.Equal(t, "rough day at work", generator.lastUser)
	assert.Contains(t, generator.lastSystem, "profanity is allowed")
}

func TestClassifyAcceptsFencedJSON(t *testing.T) {
	generator := &stubGenerator{reply: "```json\n{\"emotion\":\"calm\",\"comment\":\"nice\",\"feedback\":\"\",\"keywords\":[]}\n```"}
	engine := newTestEngine(t, generator)

	judgment := engine.Classify(context.Background(), "quiet evening", IntensitySoft)

	assert.Equal(t, "calm", judgment.Emotion)
	assert.Equal(t, []string{}, judgment.Keywords)
}

func TestClassifyDegradesToUnknownOnMalformedReply(t *testing.T) {
	testCases := []struct {
		name  string
		reply string
	}{
		{name: "plain-text", reply: "  I hear you, that sounds awful.  "},
		{name: "missing-keywords", reply: `{"emotion":"sad","comment":"c","feedback":"f"}`},
		{name: "blank-emotion", reply: `{"emotion":" ","comment":"c","feedback":"f","keywords":[]}`},
		{name: "unknown-field", reply: `{"emotion":"sad","comment":"c","feedback":"f","keywords":[],"score":3}`},
		{name: "wrong-keyword-type", reply: `{"emotion":"sad","comment":"c","feedback":"f","keywords":"work"}`},
		{name: "empty", reply: ""},
		{name: "overlong-emotion", reply: `{"emotion":"` + strings.Repeat("restless", 30) + `","comment":"c","feedback":"f","keywords":[]}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			engine := newTestEngine(t, &stubGenerator{reply: testCase.reply})

			judgment := engine.Classify(context.Background(), "text", IntensityMedium)

			assert.Equal(t, EmotionUnknown, judgment.Emotion)
			assert.Equal(t, strings.TrimSpace(testCase.reply), judgment.Comment)
			assert.Equal(t, "", judgment.Feedback)
			assert.NotNil(t, judgment.Keywords)
			assert.Empty(t, judgment.Keywords)
		})
	}
}

func TestClassifyDegradesToErrorOnGeneratorFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	engine, err := NewEngine(EngineConfig{
		Generator: &stubGenerator{err: errors.New("quota exceeded")},
		Logger:    zap.New(core),
	})
	require.NoError(t, err)

	judgment := engine.Classify(context.Background(), "text", IntensityHard)

	assert.Equal(t, EmotionError, judgment.Emotion)
	assert.Equal(t, "empathy generation failed: quota exceeded", judgment.Comment)
	assert.Equal(t, "", judgment.Feedback)
	assert.Equal(t, []string{}, judgment.Keywords)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestClassifyAppliesTimeout(t *testing.T) {
	engine, err := NewEngine(EngineConfig{Generator: blockingGenerator{}, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	started := time.Now()
	judgment := engine.Classify(context.Background(), "text", IntensitySoft)

	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, EmotionError, judgment.Emotion)
	assert.Contains(t, judgment.Comment, context.DeadlineExceeded.Error())
}

func TestClassifyAlwaysReturnsFourFields(t *testing.T) {
	generators := []Generator{
		&stubGenerator{reply: `{"emotion":"happy","comment":"yay","feedback":"keep going","keywords":null}`},
		&stubGenerator{reply: "not json"},
		&stubGenerator{err: context.Canceled},
		DisabledGenerator{},
	}
	for _, generator := range generators {
		for _, intensity := range append(Intensities(), Intensity("weird")) {
			judgment := newTestEngine(t, generator).Classify(context.Background(), "entry", intensity)
			assert.NotEmpty(t, judgment.Emotion)
			assert.NotNil(t, judgment.Keywords)
		}
	}
}

func TestNewEngineRequiresGenerator(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	require.Error(t, err)
}

func TestParseJudgmentTrimsKeywords(t *testing.T) {
	judgment, err := ParseJudgment(`{"emotion":" Tired ","comment":"rest","feedback":"sleep early","keywords":[" night ", "", "shift"]}`)
	require.NoError(t, err)
	assert.Equal(t, "Tired", judgment.Emotion)
	assert.Equal(t, []string{"night", "shift"}, judgment.Keywords)
}

func TestParseJudgmentBoundsEmotionLength(t *testing.T) {
	atLimit := strings.Repeat("슬", MaxEmotionLength)
	judgment, err := ParseJudgment(`{"emotion":"` + atLimit + `","comment":"c","feedback":"f","keywords":[]}`)
	require.NoError(t, err)
	assert.Equal(t, atLimit, judgment.Emotion)

	_, err = ParseJudgment(`{"emotion":"` + atLimit + `x","comment":"c","feedback":"f","keywords":[]}`)
	require.ErrorIs(t, err, errEmotionTooLong)
}
