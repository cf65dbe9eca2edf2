// Package gemini connects live sessions to the Gemini Live API.
// It translates between the relay's event model and genai's Live messages.
package gemini

import "net/http"

// Option configures the Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client handed to the genai SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithAPIVersion sets the Live API version.
// Default: v1alpha
func WithAPIVersion(version string) Option {
	return func(p *Provider) {
		if version != "" {
			p.apiVersion = version
		}
	}
}

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithInputMIMEType sets the mime type used for audio that arrives untagged.
// Default: audio/pcm;rate=16000
func WithInputMIMEType(mimeType string) Option {
	return func(p *Provider) {
		if mimeType != "" {
			p.inputMIMEType = mimeType
		}
	}
}
