// Package ai produces assistant replies for client chat. The upstream model
// is an opaque collaborator: when it is unreachable the responder degrades
// to a canned reply instead of failing the conversation.
package ai

import (
	"context"
	"log"
	"math/rand"
	"strings"

	"github.com/openai/openai-go"
)

// Reply is one assistant answer. Fallback marks canned replies produced
// when the upstream model was unavailable.
type Reply struct {
	Text     string   `json:"reply"`
	Sources  []Source `json:"sources,omitempty"`
	Fallback bool     `json:"fallback,omitempty"`
}

// Source is a web reference that informed the reply.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Responder generates assistant replies. Implementations never return an
// error; degradation is internal.
type Responder interface {
	Reply(ctx context.Context, message string) *Reply
}

const systemPrompt = `You are a helpful assistant for a support ticket system. You provide clear, concise, and helpful responses to user queries. You specialize in technical support, troubleshooting, and general assistance.

Key guidelines:
- Be friendly and professional
- Provide step-by-step solutions when appropriate
- If you can't solve an issue, suggest escalating to a human engineer
- Keep responses concise but informative
- Use bullet points or numbered lists for complex solutions
- Always be helpful and try to provide actionable advice`

var fallbackResponses = []string{
	"I understand your concern. Let me help you with that.",
	"That's a great question! Here's what I can tell you:",
	"I'm here to assist you. Can you provide more details about your issue?",
	"Let me walk you through the solution step by step.",
	"I've encountered similar issues before. Here's how we can resolve this:",
	"Thank you for reaching out. I'll do my best to help you solve this problem.",
	"Based on your description, I recommend trying the following approach:",
	"That sounds frustrating. Let's work together to find a solution.",
	"I can definitely help you with that. Here are some options:",
	"Great question! This is actually a common issue that we can resolve quickly.",
}

// Options configure the model responder.
type Options struct {
	Model     string
	MaxTokens int64
}

// ModelResponder answers through the OpenAI Chat Completions API, optionally
// enriching the prompt with web-search context.
type ModelResponder struct {
	client *openai.Client
	search *TavilyClient
	opts   Options
}

// NewModelResponder creates a responder from an existing client. A nil
// search client disables web augmentation.
func NewModelResponder(client *openai.Client, search *TavilyClient, optFns ...func(o *Options)) *ModelResponder {
	opts := Options{
		Model:     openai.ChatModelGPT4oMini,
		MaxTokens: 500,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelResponder{client: client, search: search, opts: opts}
}

// Reply generates an assistant answer, falling back to a canned response
// when the upstream model fails.
func (r *ModelResponder) Reply(ctx context.Context, message string) *Reply {
	prompt := systemPrompt
	var sources []Source

	if r.search != nil {
		if result := r.search.Search(ctx, message); result != nil && result.Answer != "" {
			var titles []string
			for _, s := range result.Sources {
				titles = append(titles, s.Title)
				sources = append(sources, s)
			}
			prompt += "\n\nAdditional context from web search:\n" + result.Answer +
				"\n\nSources: " + strings.Join(titles, ", ")
		}
	}

	completion, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(message),
		},
		Model:               r.opts.Model,
		Temperature:         openai.Float(0.7),
		MaxCompletionTokens: openai.Int(r.opts.MaxTokens),
	})
	if err != nil {
		log.Printf("ai: completion failed, using fallback: %v", err)
		return canned()
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return canned()
	}

	return &Reply{Text: completion.Choices[0].Message.Content, Sources: sources}
}

// CannedResponder always answers with a canned reply. Used when no model is
// configured.
type CannedResponder struct{}

func (CannedResponder) Reply(_ context.Context, _ string) *Reply {
	return canned()
}

func canned() *Reply {
	text := fallbackResponses[rand.Intn(len(fallbackResponses))] +
		" If you need more detailed assistance, I can connect you with a human engineer."
	return &Reply{Text: text, Fallback: true}
}
