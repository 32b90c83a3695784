// Package prompts builds a Manifest's system prompt, grounded verbatim
// on pkg/agent-framework/prompts/simple_prompts.go's loader/resolver
// split: a PromptLoader supplies the raw template text (a string
// literal, a file, eventually a DB row), a resolver renders it against
// per-run data.
package prompts

import (
	"context"
	"regexp"
	"text/template"

	"go.opentelemetry.io/otel"

	"github.com/runloom/runloom/internal/utils"
)

var tracer = otel.Tracer("runloom/prompts")

type PromptLoader interface {
	LoadPrompt(ctx context.Context) (string, error)
}

type PromptResolverFn func(string, map[string]any) (string, error)

type StringLoader struct {
	String string
}

func NewStringLoader(s string) *StringLoader { return &StringLoader{String: s} }

func (l *StringLoader) LoadPrompt(ctx context.Context) (string, error) {
	return l.String, nil
}

type SimplePrompt struct {
	loader   PromptLoader
	resolver PromptResolverFn
}

func New(prompt string, opts ...PromptOption) *SimplePrompt {
	return NewWithLoader(NewStringLoader(prompt), opts...)
}

func NewWithLoader(loader PromptLoader, opts ...PromptOption) *SimplePrompt {
	sp := &SimplePrompt{loader: loader, resolver: DefaultResolver}
	for _, o := range opts {
		o(sp)
	}
	return sp
}

type PromptOption func(*SimplePrompt)

func WithResolver(fn PromptResolverFn) PromptOption {
	return func(sp *SimplePrompt) { sp.resolver = fn }
}

func (sp *SimplePrompt) GetPrompt(ctx context.Context, data map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "SimplePrompt.GetPrompt")
	defer span.End()

	prompt, err := sp.loader.LoadPrompt(ctx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if data == nil {
		return prompt, nil
	}
	return sp.resolver(prompt, data)
}

var templateVarPattern = regexp.MustCompile(`{{(\w.+)}}`)

func stringToTemplate(promptStr string) (*template.Template, error) {
	promptStr = templateVarPattern.ReplaceAllString(promptStr, "{{ .$1 }}")
	return template.New("manifest_prompt").Parse(promptStr)
}

// DefaultResolver renders {{varName}} placeholders against data using
// Go's text/template, the teacher's own prompt-rendering mechanism.
func DefaultResolver(prompt string, data map[string]any) (string, error) {
	tmpl, err := stringToTemplate(prompt)
	if err != nil {
		return prompt, err
	}
	return utils.ExecuteTemplate(tmpl, data)
}
