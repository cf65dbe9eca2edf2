package live

import (
	"errors"
	"strings"
)

// SessionPolicy is the upstream configuration applied to every session.
// It comes from operator configuration only; clients cannot change it.
type SessionPolicy struct {
	Model              string   `yaml:"model" json:"model"`
	Voice              string   `yaml:"voice" json:"voice"`
	LanguageCode       string   `yaml:"language_code" json:"language_code"`
	ResponseModalities []string `yaml:"response_modalities" json:"response_modalities"`
	SystemInstruction  string   `yaml:"system_instruction" json:"system_instruction"`
	// OutputSampleRate is assumed for upstream audio that carries no rate parameter.
	OutputSampleRate int `yaml:"output_sample_rate" json:"output_sample_rate"`
}

const (
	DefaultModel            = "gemini-2.0-flash-exp"
	DefaultVoice            = "Aoede"
	DefaultOutputSampleRate = 24000
	ModalityAudio           = "AUDIO"
)

// DefaultSystemInstruction is the NativeFlow translator persona.
const DefaultSystemInstruction = `You are NativeFlow, a professional live translator and language assistant.

IMPORTANT: Always respond with AUDIO. Speak your responses clearly and naturally.

**Your Translation Process:**
1. **Listen & Analyze**: Carefully listen to what the user says
2. **Identify Languages**: Determine the source language and intended target language
3. **Provide Translation**: Give the most natural and accurate translation in AUDIO

**Response Format:**
- Always respond with SPOKEN audio
- Use authentic native pronunciation for each target language
- Speak clearly and at natural pace
- For pronunciation help, speak slower with emphasis on difficult sounds

**For Translation Requests**:
- Acknowledge what they want to translate
- Provide the translation clearly in speech
- Use authentic native accent for that language

**For Understanding Foreign Phrases**:
- Identify the language in speech
- Provide the English meaning clearly in speech
- Add cultural context if relevant

You must ALWAYS respond with audio. Never just send text - speak your response.`

func DefaultPolicy() SessionPolicy {
	return SessionPolicy{
		Model:              DefaultModel,
		Voice:              DefaultVoice,
		ResponseModalities: []string{ModalityAudio},
		SystemInstruction:  DefaultSystemInstruction,
		OutputSampleRate:   DefaultOutputSampleRate,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p SessionPolicy) WithDefaults() SessionPolicy {
	def := DefaultPolicy()
	if strings.TrimSpace(p.Model) == "" {
		p.Model = def.Model
	}
	if strings.TrimSpace(p.Voice) == "" {
		p.Voice = def.Voice
	}
	if len(p.ResponseModalities) == 0 {
		p.ResponseModalities = def.ResponseModalities
	}
	if strings.TrimSpace(p.SystemInstruction) == "" {
		p.SystemInstruction = def.SystemInstruction
	}
	if p.OutputSampleRate == 0 {
		p.OutputSampleRate = def.OutputSampleRate
	}
	return p
}

func (p SessionPolicy) Validate() error {
	if strings.TrimSpace(p.Model) == "" {
		return errors.New("policy model must not be empty")
	}
	if p.OutputSampleRate <= 0 {
		return errors.New("policy output_sample_rate must be > 0")
	}
	for _, m := range p.ResponseModalities {
		switch strings.ToUpper(strings.TrimSpace(m)) {
		case "AUDIO", "TEXT":
		default:
			return errors.New("policy response_modalities must be AUDIO or TEXT")
		}
	}
	return nil
}
