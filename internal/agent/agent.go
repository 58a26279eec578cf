// Package agent turns free-text commands into assistant replies using an
// OpenAI-compatible chat completion endpoint.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = `You are the home assistant running scheduled automations.
You receive a single household command such as "turn off the living room lights".
Carry it out with the call_service tool, one call per device, then answer with
one short sentence describing what was done.`

// DefaultModel is used when no model is configured
const DefaultModel = openai.GPT4oMini

// maxToolRounds bounds the completion round trips of one command
const maxToolRounds = 5

var (
	// ErrEmptyReply is returned when the model answers with no content
	ErrEmptyReply = errors.New("agent returned an empty reply")
	// ErrTooManyRounds is returned when the model keeps requesting tool calls
	ErrTooManyRounds = errors.New("agent exceeded the tool call limit")
)

// ServiceCaller carries out a device service call, e.g. light.turn_on
type ServiceCaller interface {
	Call(ctx context.Context, domain, service string, target, data map[string]any) error
}

var callServiceTool = openai.Tool{
	Type: openai.ToolTypeFunction,
	Function: &openai.FunctionDefinition{
		Name:        "call_service",
		Description: "Call a home device service, for example domain light, service turn_off, entity_id light.kitchen.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain":    map[string]any{"type": "string", "description": "Service domain such as light, switch or cover"},
				"service":   map[string]any{"type": "string", "description": "Service name such as turn_on or turn_off"},
				"entity_id": map[string]any{"type": "string", "description": "Target entity, e.g. light.kitchen"},
				"data":      map[string]any{"type": "object", "description": "Optional service data such as brightness"},
			},
			"required": []string{"domain", "service", "entity_id"},
		},
	},
}

type callServiceArgs struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data"`
}

// OpenAIClient is the subset of the go-openai client the pipeline uses
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds connection settings for the completion endpoint
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Pipeline runs agent commands. The model acts on devices through the
// call_service tool, which is forwarded to the ServiceCaller.
type Pipeline struct {
	client OpenAIClient
	caller ServiceCaller
	model  string
	logger *zap.Logger
}

// NewClient builds a go-openai client from cfg
func NewClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// NewPipeline creates a pipeline on top of client that acts through caller
func NewPipeline(client OpenAIClient, caller ServiceCaller, model string, logger *zap.Logger) *Pipeline {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{client: client, caller: caller, model: model, logger: logger.Named("agent")}
}

// Run sends one command, executes the service calls the model asks for and
// returns its final reply
func (p *Pipeline) Run(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty command")
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: text},
	}
	calls, tokens := 0, 0
	for round := 0; round < maxToolRounds; round++ {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.model,
			Messages:    messages,
			Tools:       []openai.Tool{callServiceTool},
			Temperature: 0.2,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		tokens += resp.Usage.TotalTokens
		if len(resp.Choices) == 0 {
			return "", ErrEmptyReply
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			reply := strings.TrimSpace(msg.Content)
			if reply == "" {
				return "", ErrEmptyReply
			}
			p.logger.Debug("command handled",
				zap.String("command", text),
				zap.String("reply", reply),
				zap.Int("service_calls", calls),
				zap.Int("total_tokens", tokens),
			)
			return reply, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			result, err := p.callTool(ctx, tc)
			if err != nil {
				return "", err
			}
			calls++
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tc.ID,
				Content:    result,
			})
		}
	}
	return "", ErrTooManyRounds
}

// callTool runs one tool call. Device failures go back to the model as the
// tool result; a missing caller or a context error aborts the command.
func (p *Pipeline) callTool(ctx context.Context, tc openai.ToolCall) (string, error) {
	if tc.Function.Name != callServiceTool.Function.Name {
		return fmt.Sprintf("error: unknown tool %q", tc.Function.Name), nil
	}
	if p.caller == nil {
		return "", errors.New("agent has no service caller")
	}
	var args callServiceArgs
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return "error: arguments are not valid JSON: " + err.Error(), nil
	}
	if args.Domain == "" || args.Service == "" || args.EntityID == "" {
		return "error: domain, service and entity_id are required", nil
	}

	err := p.caller.Call(ctx, args.Domain, args.Service, map[string]any{"entity_id": args.EntityID}, args.Data)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("call %s.%s: %w", args.Domain, args.Service, err)
		}
		p.logger.Warn("service call failed",
			zap.String("service", args.Domain+"."+args.Service),
			zap.String("entity_id", args.EntityID),
			zap.Error(err))
		return "error: " + err.Error(), nil
	}
	p.logger.Info("service called",
		zap.String("service", args.Domain+"."+args.Service),
		zap.String("entity_id", args.EntityID))
	return "ok", nil
}
