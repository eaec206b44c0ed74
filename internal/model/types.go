package model

// Credentials 用户提供的模型服务密钥
type Credentials struct {
	GeminiKey string `json:"geminiKey,omitempty"` // Google Gemini 密钥
	ArkKey    string `json:"arkKey,omitempty"`    // 火山方舟密钥
}

// StoryRequest 故事生成请求
type StoryRequest struct {
	Prompt      string      `json:"prompt"`            // 用户输入的故事提示
	PageCount   int         `json:"pageCount"`         // 页数
	Credentials Credentials `json:"apiKeys,omitempty"` // 模型服务密钥
}

// PageDraft 故事单页草稿
type PageDraft struct {
	PageNumber int      `json:"pageNumber"` // 页码，从1开始
	Title      string   `json:"title"`      // 页标题
	Content    string   `json:"content"`    // 正文
	Characters []string `json:"characters"` // 出场角色
	Setting    string   `json:"setting"`    // 场景
	Mood       string   `json:"mood"`       // 氛围
}

// StoryDraft 结构化故事草稿，插图生成之前的状态
type StoryDraft struct {
	Title     string      `json:"title"`     // 故事标题
	Genre     string      `json:"genre"`     // 体裁
	TargetAge string      `json:"targetAge"` // 目标年龄
	Pages     []PageDraft `json:"pages"`     // 按叙事顺序排列的页
}

// PageResult 带插图结果的页
type PageResult struct {
	PageDraft
	ImageURL    string `json:"imageUrl,omitempty"`    // data URI
	ImagePrompt string `json:"imagePrompt,omitempty"` // 发送给图片模型的提示词，或回退标记
}

// StoryResult 最终返回给调用方的故事
type StoryResult struct {
	Title         string       `json:"title"`
	Genre         string       `json:"genre"`
	TargetAge     string       `json:"targetAge"`
	Pages         []PageResult `json:"pages"`
	CoverImageURL string       `json:"coverImageUrl,omitempty"`
}

// Characters returns every character name across the draft, first occurrence order.
func (d StoryDraft) Characters() []string {
	var all []string
	for _, p := range d.Pages {
		all = append(all, p.Characters...)
	}
	return all
}
