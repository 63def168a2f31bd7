// Package chat 对话流水线：配额、上下文组装、推理编排与摘要刷新
package chat

// Provider 回答来源
type Provider string

const (
	ProviderCached   Provider = "cached"
	ProviderPrimary  Provider = "primary"
	ProviderFallback Provider = "fallback"
)

// Preferences 用户偏好
type Preferences struct {
	Format   string   `json:"format,omitempty"`
	Budget   string   `json:"budget,omitempty"`
	Colors   []string `json:"colors,omitempty"`
	Teaching bool     `json:"teaching,omitempty"`
}

// RequestContext 请求附带的套牌上下文
type RequestContext struct {
	DeckID string   `json:"deckId,omitempty"`
	Budget string   `json:"budget,omitempty"`
	Colors []string `json:"colors,omitempty"`
}

// ChatRequest 入站请求
type ChatRequest struct {
	Message     string         `json:"message"`
	ThreadID    string         `json:"threadId,omitempty"`
	Preferences Preferences    `json:"preferences"`
	Context     RequestContext `json:"context"`
}

// ChatResponse 出站响应
type ChatResponse struct {
	Text     string   `json:"text"`
	ThreadID string   `json:"threadId"`
	Provider Provider `json:"provider"`
}

// preferenceSubset 参与指纹计算的偏好字段，顺序固定
type preferenceSubset struct {
	Format   string   `json:"format"`
	Budget   string   `json:"budget"`
	Colors   []string `json:"colors"`
	Teaching bool     `json:"teaching"`
}

func subsetOf(req ChatRequest) preferenceSubset {
	budget := req.Preferences.Budget
	if budget == "" {
		budget = req.Context.Budget
	}
	colors := req.Preferences.Colors
	if len(colors) == 0 {
		colors = req.Context.Colors
	}
	return preferenceSubset{
		Format:   normalizeFormat(req.Preferences.Format),
		Budget:   budget,
		Colors:   sortedUpper(colors),
		Teaching: req.Preferences.Teaching,
	}
}
