package llm

import (
	"reflect"
	"testing"
)

func TestNormalizeTurns(t *testing.T) {
	tests := []struct {
		name string
		in   []ChatMessage
		want []ChatMessage
	}{
		{
			name: "alternating unchanged",
			in: []ChatMessage{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, Content: "hello"},
				{Role: RoleUser, Content: "help"},
			},
			want: []ChatMessage{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, Content: "hello"},
				{Role: RoleUser, Content: "help"},
			},
		},
		{
			name: "leading assistant dropped",
			in: []ChatMessage{
				{Role: RoleAssistant, Content: "welcome"},
				{Role: RoleUser, Content: "hi"},
			},
			want: []ChatMessage{
				{Role: RoleUser, Content: "hi"},
			},
		},
		{
			name: "consecutive merged",
			in: []ChatMessage{
				{Role: RoleUser, Content: "a"},
				{Role: RoleUser, Content: "b"},
				{Role: RoleAssistant, Content: "c"},
				{Role: RoleAssistant, Content: "d"},
			},
			want: []ChatMessage{
				{Role: RoleUser, Content: "a\n\nb"},
				{Role: RoleAssistant, Content: "c\n\nd"},
			},
		},
		{
			name: "no user",
			in:   []ChatMessage{{Role: RoleAssistant, Content: "x"}},
			want: []ChatMessage{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeTurns(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	if _, err := NewClient("bard", "key"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(ProviderAnthropic, ""); err == nil {
		t.Fatalf("expected error for missing anthropic key")
	}
	if _, err := NewClient(ProviderOpenAI, ""); err == nil {
		t.Fatalf("expected error for missing openai key")
	}
}
