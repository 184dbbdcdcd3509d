package ai

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// Provider turns a prompt into generated text through one model.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationOptions are the sampling settings shared by every provider.
type GenerationOptions struct {
	MaxTokens   int
	Temperature float32
	// System is sent as the system prompt when non-empty.
	System string
}

const defaultMaxTokens = 2048

const defaultClaudeModel = "claude-3-5-sonnet-latest"

// NewProvider creates the provider for a model of cfg. Unknown types are
// treated as OpenAI-compatible endpoints.
func NewProvider(cfg *ProviderConfig, modelCode string, opts GenerationOptions) (Provider, error) {
	switch cfg.Type {
	case "deepseek":
		return newOpenAICompat("deepseek", cfg, modelCode, "https://api.deepseek.com/v1", "deepseek-chat", opts)
	case "kimi", "moonshot":
		return newOpenAICompat("kimi", cfg, modelCode, "https://api.moonshot.cn/v1", "moonshot-v1-8k", opts)
	case "qwen", "qianwen", "tongyi":
		return newOpenAICompat("qwen", cfg, modelCode, "https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus", opts)
	case "claude", "anthropic", "":
		return NewClaudeProvider(cfg, modelCode, opts)
	default:
		return createOpenAICompatProvider(cfg, modelCode, opts)
	}
}

func createOpenAICompatProvider(cfg *ProviderConfig, modelCode string, opts GenerationOptions) (Provider, error) {
	defaults := map[string]struct {
		baseURL string
		model   string
	}{
		"minimax":     {"https://api.minimax.chat/v1", "MiniMax-Text-01"},
		"doubao":      {"https://ark.cn-beijing.volces.com/api/v3", "doubao-pro-32k"},
		"zhipu":       {"https://open.bigmodel.cn/api/paas/v4", "glm-4-flash"},
		"openai":      {"https://api.openai.com/v1", "gpt-4o"},
		"gemini":      {"https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.0-flash"},
		"yi":          {"https://api.lingyiwanwu.com/v1", "yi-large"},
		"stepfun":     {"https://api.stepfun.com/v1", "step-2-16k"},
		"siliconflow": {"https://api.siliconflow.cn/v1", "Qwen/Qwen2.5-72B-Instruct"},
		"grok":        {"https://api.x.ai/v1", "grok-2-latest"},
		"baichuan":    {"https://api.baichuan-ai.com/v1", "Baichuan4"},
		"spark":       {"https://spark-api-open.xf-yun.com/v1", "generalv3.5"},
		"hunyuan":     {"https://api.hunyuan.cloud.tencent.com/v1", "hunyuan-turbos-latest"},
	}

	aliases := map[string]string{
		"glm":         "zhipu",
		"chatglm":     "zhipu",
		"gpt":         "openai",
		"chatgpt":     "openai",
		"lingyiwanwu": "yi",
		"wanwu":       "yi",
		"google":      "gemini",
		"xai":         "grok",
		"bytedance":   "doubao",
		"volcengine":  "doubao",
		"iflytek":     "spark",
		"xunfei":      "spark",
		"tencent":     "hunyuan",
	}

	name := strings.ToLower(cfg.Type)
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}

	d, ok := defaults[name]
	if !ok && cfg.BaseURL == "" {
		return nil, fmt.Errorf("unknown provider: %s", cfg.Type)
	}
	return newOpenAICompat(name, cfg, modelCode, d.baseURL, d.model, opts)
}

// OpenAICompatProvider serves every OpenAI-compatible API. Calls rotate
// through the key pool of the provider.
type OpenAICompatProvider struct {
	clients      []*openai.Client
	next         atomic.Uint32
	model        string
	providerName string
	opts         GenerationOptions
}

func newOpenAICompat(name string, cfg *ProviderConfig, modelCode, defaultURL, defaultModel string, opts GenerationOptions) (*OpenAICompatProvider, error) {
	keys := cfg.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("API key is required for provider %s", name)
	}

	model := modelCode
	if model == "" {
		model = defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("model is required for provider %s", name)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}

	p := &OpenAICompatProvider{model: model, providerName: name, opts: opts}
	for _, key := range keys {
		config := openai.DefaultConfig(key)
		config.BaseURL = baseURL
		p.clients = append(p.clients, openai.NewClientWithConfig(config))
	}
	return p, nil
}

// Name returns the provider name
func (p *OpenAICompatProvider) Name() string {
	return p.providerName
}

// Model returns the model code requests are sent to.
func (p *OpenAICompatProvider) Model() string {
	return p.model
}

func (p *OpenAICompatProvider) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if p.opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.opts.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	maxTokens := p.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	client := p.clients[int(p.next.Add(1)-1)%len(p.clients)]
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: p.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.providerName, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.providerName)
	}
	return resp.Choices[0].Message.Content, nil
}

// ClaudeProvider calls the Anthropic messages API.
type ClaudeProvider struct {
	clients []*anthropic.Client
	next    atomic.Uint32
	model   string
	opts    GenerationOptions
}

func NewClaudeProvider(cfg *ProviderConfig, modelCode string, opts GenerationOptions) (*ClaudeProvider, error) {
	keys := cfg.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("API key is required for provider claude")
	}

	model := modelCode
	if model == "" {
		model = defaultClaudeModel
	}

	p := &ClaudeProvider{model: model, opts: opts}
	for _, key := range keys {
		var clientOpts []anthropic.ClientOption
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		p.clients = append(p.clients, anthropic.NewClient(key, clientOpts...))
	}
	return p, nil
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Model returns the model code requests are sent to.
func (p *ClaudeProvider) Model() string {
	return p.model
}

func (p *ClaudeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	maxTokens := p.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		System:    p.opts.System,
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage(prompt)},
		MaxTokens: maxTokens,
	}
	if p.opts.Temperature > 0 {
		temperature := p.opts.Temperature
		req.Temperature = &temperature
	}

	client := p.clients[int(p.next.Add(1)-1)%len(p.clients)]
	resp, err := client.CreateMessages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		text.WriteString(c.GetText())
	}
	return text.String(), nil
}
