package notes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/llm"
)

type scriptedGenerator struct {
	reply string
	err   error
	calls int
}

func (s *scriptedGenerator) Generate(ctx context.Context, system, user string) (*llm.Generation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Generation{Text: s.reply, Usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}, nil
}

func (s *scriptedGenerator) GenerateStream(ctx context.Context, system, user string, emit func(string)) (*llm.Generation, error) {
	return s.Generate(ctx, system, user)
}

func sampleTranscript() []sessions.Message {
	return []sessions.Message{
		{Role: sessions.RoleAssistant, Content: "What brings you here today?"},
		{Role: sessions.RoleUser, Content: "I keep avoiding my credit card statement."},
		{Role: sessions.RoleUser, Content: "Opened it during our talk, actually."},
	}
}

func TestGenerateParsesStructuredReply(t *testing.T) {
	gen := &scriptedGenerator{reply: "Here's the recap:\n```json\n" +
		`{"headline": "You faced the statement", "narrative": "You opened the statement you had been avoiding.", "key_moments": ["Opened the statement live"], "milestone": "First statement opened in months"}` +
		"\n```"}

	result, err := NewGenerator(gen, zap.NewNop()).Generate(context.Background(), Input{Transcript: sampleTranscript()})
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "You faced the statement", result.Notes.Headline)
	assert.Equal(t, []string{"Opened the statement live"}, result.Notes.KeyMoments)
	assert.Equal(t, "First statement opened in months", result.Notes.Milestone)
	assert.Equal(t, 100, result.Usage.InputTokens)
}

func TestGenerateFallbackOnUnparseableReply(t *testing.T) {
	gen := &scriptedGenerator{reply: "Great session! You really opened up about the statement."}

	result, err := NewGenerator(gen, zap.NewNop()).Generate(context.Background(), Input{Transcript: sampleTranscript()})
	require.NoError(t, err)
	assert.Equal(t, FallbackHeadline, result.Notes.Headline)
	// The raw reply is kept as the narrative rather than discarded.
	assert.Equal(t, "Great session! You really opened up about the statement.", result.Notes.Narrative)
	// Never fabricate evidence-bearing fields on fallback.
	assert.Empty(t, result.Notes.KeyMoments)
	assert.Empty(t, result.Notes.Milestone)
}

func TestGenerateFallbackOnTransportError(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("connection reset")}

	result, err := NewGenerator(gen, zap.NewNop()).Generate(context.Background(), Input{Transcript: sampleTranscript()})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Notes.Headline)
	assert.NotEmpty(t, result.Notes.Narrative)
}

func TestGenerateFallbackOnMissingRequiredFields(t *testing.T) {
	// Parseable JSON that lacks a narrative still routes to the fallback.
	gen := &scriptedGenerator{reply: "```json\n{\"headline\": \"Only a headline\"}\n```"}

	result, err := NewGenerator(gen, zap.NewNop()).Generate(context.Background(), Input{Transcript: sampleTranscript()})
	require.NoError(t, err)
	assert.Equal(t, FallbackHeadline, result.Notes.Headline)
	assert.NotEmpty(t, result.Notes.Narrative)
}
