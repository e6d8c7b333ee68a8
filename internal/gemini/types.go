// Package gemini is a thin HTTP client for the Google generative-language API.
// The relay forwards request payloads opaquely, so only the response side of
// the generateContent envelope is modelled here.
package gemini

// GenerateContentResponse is one decoded chunk of a streamGenerateContent
// response (or a whole non-streamed response; the shape is identical).
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates,omitempty"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index,omitempty"`
}

type Content struct {
	Parts []Part `json:"parts,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Part struct {
	Text string `json:"text,omitempty"`
}

type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// Text concatenates the text parts of the first candidate. Chunks that carry
// only metadata (usage, finish reason) yield an empty string.
func (r *GenerateContentResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	parts := r.Candidates[0].Content.Parts
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0].Text
	}
	var out string
	for _, p := range parts {
		out += p.Text
	}
	return out
}
