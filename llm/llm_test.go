package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestThrottledError_Is(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &ThrottledError{RetryAfter: 2 * time.Second, Cause: errors.New("429")})
	assert.ErrorIs(t, err, ErrThrottled)

	var te *ThrottledError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 2*time.Second, te.RetryAfter)
	assert.Contains(t, err.Error(), "retry after 2s")
}

func TestIsThrottle(t *testing.T) {
	assert.True(t, isThrottle(genai.APIError{Code: 429, Message: "quota"}))
	assert.True(t, isThrottle(errors.New("Error 429: RESOURCE_EXHAUSTED")))
	assert.False(t, isThrottle(errors.New("invalid argument")))
}

func TestCompleterFunc(t *testing.T) {
	var c Completer = CompleterFunc(func(_ context.Context, req Request) (Completion, error) {
		return Completion{Text: req.Prompt}, nil
	})
	got, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "hi", got.Text)
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Here you go: {\"a\":1} hope it helps", `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepairJSON(tt.in)
			assert.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}

	_, err := RepairJSON("I cannot help with that.")
	assert.ErrorIs(t, err, ErrNoJSON)
}
