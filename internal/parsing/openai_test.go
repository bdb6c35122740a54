package parsing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
)

func chatReply(t *testing.T, content any) string {
	t.Helper()

	encoded, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("failed to encode reply content: %v", err)
	}

	envelope := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": string(encoded)}},
		},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("failed to encode envelope: %v", err)
	}
	return string(body)
}

func newTestParser(t *testing.T, handler http.HandlerFunc) (*OpenAIParser, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	parser, err := NewOpenAIParser(server.URL, "test-key", "gpt-4o-mini", nil)
	if err != nil {
		t.Fatalf("NewOpenAIParser() unexpected error = %v", err)
	}
	return parser, server
}

func TestOpenAIParserParseSingleGroup(t *testing.T) {
	t.Parallel()

	parser, _ := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q, want bearer test-key", got)
		}

		_, _ = w.Write([]byte(chatReply(t, map[string]any{
			"variations":  map[string]string{"line1": "The Smiths", "line2": "42 Oak Lane"},
			"hasMultiple": false,
			"personalizations": [][]map[string]string{
				{{"id": "line1", "value": "The Smiths"}, {"id": "line2", "value": "42 Oak Lane"}},
			},
			"originalVariations": "Personalization: The Smiths / 42 Oak Lane",
		})))
	})

	result, err := parser.Parse(context.Background(), Request{
		RawText: "Personalization: The Smiths / 42 Oak Lane",
		Fields: []domain.FieldDescriptor{
			{ID: "line1", Description: "name line"},
			{ID: "line2", Description: "address line"},
		},
	})
	if err != nil {
		t.Fatalf("Parse() unexpected error = %v", err)
	}

	if result.HasMultiple {
		t.Fatal("hasMultiple = true, want false for a single group")
	}
	if len(result.Personalizations) != 1 {
		t.Fatalf("groups = %d, want exactly 1", len(result.Personalizations))
	}
	if result.Personalizations[0][0].Value != "The Smiths" {
		t.Fatalf("first field value = %q, want The Smiths", result.Personalizations[0][0].Value)
	}
}

func TestOpenAIParserParseMultipleGroups(t *testing.T) {
	t.Parallel()

	parser, _ := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(t, map[string]any{
			"variations":  map[string]string{"name": "two engravings"},
			"hasMultiple": true,
			"personalizations": [][]map[string]string{
				{{"id": "name", "value": "Alice"}},
				{{"id": "name", "value": "Bob"}},
			},
			"originalVariations": "Names: Alice, Bob",
		})))
	})

	result, err := parser.Parse(context.Background(), Request{
		RawText: "Names: Alice, Bob",
		Fields:  []domain.FieldDescriptor{{ID: "name"}},
	})
	if err != nil {
		t.Fatalf("Parse() unexpected error = %v", err)
	}

	if !result.HasMultiple {
		t.Fatal("hasMultiple = false, want true for two groups")
	}
	if len(result.Personalizations) != 2 {
		t.Fatalf("groups = %d, want 2", len(result.Personalizations))
	}
}

func TestOpenAIParserDropsInventedFieldIDs(t *testing.T) {
	t.Parallel()

	parser, _ := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(t, map[string]any{
			"variations": map[string]string{"name": "Alice"},
			"personalizations": [][]map[string]string{
				{{"id": "name", "value": "Alice"}, {"id": "made_up", "value": "junk"}},
			},
		})))
	})

	result, err := parser.Parse(context.Background(), Request{
		RawText: "Name: Alice",
		Fields:  []domain.FieldDescriptor{{ID: "name"}},
	})
	if err != nil {
		t.Fatalf("Parse() unexpected error = %v", err)
	}

	group := result.Personalizations[0]
	if len(group) != 1 || group[0].ID != "name" {
		t.Fatalf("group = %+v, want only the known field id", group)
	}
}

func TestOpenAIParserSynthesizesGroupFromVariations(t *testing.T) {
	t.Parallel()

	parser, _ := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(t, map[string]any{
			"variations": map[string]string{"line1": "The Smiths"},
		})))
	})

	result, err := parser.Parse(context.Background(), Request{
		RawText: "The Smiths",
		Fields:  []domain.FieldDescriptor{{ID: "line1"}},
	})
	if err != nil {
		t.Fatalf("Parse() unexpected error = %v", err)
	}

	if len(result.Personalizations) != 1 {
		t.Fatalf("groups = %d, want synthesized single group", len(result.Personalizations))
	}
	if result.Personalizations[0][0].Value != "The Smiths" {
		t.Fatalf("value = %q, want The Smiths", result.Personalizations[0][0].Value)
	}
	if result.OriginalVariations != "The Smiths" {
		t.Fatalf("originalVariations = %q, want raw text fallback", result.OriginalVariations)
	}
}

func TestOpenAIParserCollaboratorFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
			},
		},
		{
			name: "prose instead of JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				envelope := map[string]any{
					"choices": []map[string]any{
						{"message": map[string]any{"content": "sorry, I cannot help"}},
					},
				}
				_ = json.NewEncoder(w).Encode(envelope)
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parser, _ := newTestParser(t, tt.handler)

			_, err := parser.Parse(context.Background(), Request{RawText: "anything"})
			if !errors.Is(err, domain.ErrParsing) {
				t.Fatalf("Parse() error = %v, want ErrParsing", err)
			}
		})
	}
}

func TestOpenAIParserEmptyRawText(t *testing.T) {
	t.Parallel()

	parser, _ := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("collaborator should not be called for empty input")
	})

	_, err := parser.Parse(context.Background(), Request{RawText: "  "})
	if !errors.Is(err, domain.ErrParsing) {
		t.Fatalf("Parse() error = %v, want ErrParsing", err)
	}
}

func TestNewOpenAIParserRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAIParser("", "", "", nil); err == nil {
		t.Fatal("NewOpenAIParser() should reject a missing api key")
	}
}
