package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/storechat/llm"
)

// OpenAIProvider talks to the hosted OpenAI API, or to OpenRouter when the
// base URL points there. Request and response shapes match OllamaProvider.
type OpenAIProvider struct {
	OllamaProvider
}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL constructs the OpenAI API endpoint.
func (o *OpenAIProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}

	return baseURL + "/chat/completions"
}

// Headers returns the bearer key plus optional OpenRouter attribution.
func (o *OpenAIProvider) Headers() http.Header {
	h := o.OllamaProvider.Headers()
	if siteURL := os.Getenv("OPENROUTER_SITE_URL"); siteURL != "" {
		h.Set("HTTP-Referer", siteURL)
	}
	if siteName := os.Getenv("OPENROUTER_SITE_NAME"); siteName != "" {
		h.Set("X-Title", siteName)
	}
	return h
}
