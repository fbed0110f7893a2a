package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownField is returned when a key names neither a chain field nor
	// an entry of [FieldDefs].
	ErrUnknownField = errors.New("profile: unknown field")

	// ErrInvalidValue is returned when a value cannot be coerced to the
	// field's kind.
	ErrInvalidValue = errors.New("profile: invalid value")
)

// Kind is the value type of an independent field.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool

	// KindJSON fields are held as JSON text while editing and decoded into
	// native values just before a save.
	KindJSON
)

// FieldDef describes one independent field.
type FieldDef struct {
	// Key is the dashboard-side field name.
	Key string

	// ServerKey is the channel-agnostic snapshot key; channel-specific
	// variants append [Channel.Suffix].
	ServerKey string

	Kind    Kind
	Default any
}

// FieldDefs is the declarative table of independent fields.
var FieldDefs = []FieldDef{
	// LLM
	{Key: "temp", ServerKey: "temperature", Kind: KindNumber, Default: 0.7},
	{Key: "tokens", ServerKey: "max_tokens", Kind: KindNumber, Default: 250.0},
	{Key: "msg", ServerKey: "first_message", Kind: KindString, Default: ""},
	{Key: "mode", ServerKey: "first_message_mode", Kind: KindString, Default: "speak-first"},
	{Key: "prompt", ServerKey: "system_prompt", Kind: KindString, Default: ""},
	{Key: "responseLength", ServerKey: "response_length", Kind: KindString, Default: "short"},
	{Key: "conversationTone", ServerKey: "conversation_tone", Kind: KindString, Default: "warm"},
	{Key: "conversationFormality", ServerKey: "conversation_formality", Kind: KindString, Default: "semi_formal"},
	{Key: "conversationPacing", ServerKey: "conversation_pacing", Kind: KindString, Default: "moderate"},
	{Key: "contextWindow", ServerKey: "context_window", Kind: KindNumber, Default: 10.0},
	{Key: "frequencyPenalty", ServerKey: "frequency_penalty", Kind: KindNumber, Default: 0.0},
	{Key: "presencePenalty", ServerKey: "presence_penalty", Kind: KindNumber, Default: 0.0},
	{Key: "toolChoice", ServerKey: "tool_choice", Kind: KindString, Default: "auto"},
	{Key: "dynamicVarsEnabled", ServerKey: "dynamic_vars_enabled", Kind: KindBool, Default: false},
	{Key: "dynamicVars", ServerKey: "dynamic_vars", Kind: KindJSON, Default: ""},
	{Key: "extractionModel", ServerKey: "extraction_model", Kind: KindString, Default: "llama-3.1-8b-instant"},

	// Voice tuning
	{Key: "voiceSpeed", ServerKey: "voice_speed", Kind: KindNumber, Default: 1.0},
	{Key: "voicePitch", ServerKey: "voice_pitch", Kind: KindNumber, Default: 0.0},
	{Key: "voiceVolume", ServerKey: "voice_volume", Kind: KindNumber, Default: 100.0},
	{Key: "voiceStyleDegree", ServerKey: "voice_style_degree", Kind: KindNumber, Default: 1.0},
	{Key: "voicePacing", ServerKey: "voice_pacing_ms", Kind: KindNumber, Default: 0.0},
	{Key: "voiceBgSound", ServerKey: "background_sound", Kind: KindString, Default: "none"},
	{Key: "voiceBgUrl", ServerKey: "background_sound_url", Kind: KindString, Default: ""},
	{Key: "voiceStability", ServerKey: "voice_stability", Kind: KindNumber, Default: 0.5},
	{Key: "voiceSimilarityBoost", ServerKey: "voice_similarity_boost", Kind: KindNumber, Default: 0.75},
	{Key: "voiceStyleExaggeration", ServerKey: "voice_style_exaggeration", Kind: KindNumber, Default: 0.0},
	{Key: "voiceSpeakerBoost", ServerKey: "voice_speaker_boost", Kind: KindBool, Default: true},
	{Key: "voiceMultilingual", ServerKey: "voice_multilingual", Kind: KindBool, Default: true},
	{Key: "ttsLatencyOptimization", ServerKey: "tts_latency_optimization", Kind: KindNumber, Default: 0.0},
	{Key: "ttsOutputFormat", ServerKey: "tts_output_format", Kind: KindString, Default: "pcm_16000"},
	{Key: "voiceFillerInjection", ServerKey: "voice_filler_injection", Kind: KindBool, Default: false},
	{Key: "voiceBackchanneling", ServerKey: "voice_backchanneling", Kind: KindBool, Default: false},
	{Key: "textNormalizationRule", ServerKey: "text_normalization_rule", Kind: KindString, Default: "auto"},

	// Transcriber
	{Key: "sttProvider", ServerKey: "stt_provider", Kind: KindString, Default: "azure"},
	{Key: "sttLang", ServerKey: "stt_language", Kind: KindString, Default: "es-MX"},
	{Key: "sttModel", ServerKey: "stt_model", Kind: KindString, Default: "nova-2"},
	{Key: "sttKeywords", ServerKey: "stt_keywords", Kind: KindString, Default: ""},
	{Key: "sttPunctuation", ServerKey: "stt_punctuation", Kind: KindBool, Default: true},
	{Key: "sttSmartFormatting", ServerKey: "stt_smart_formatting", Kind: KindBool, Default: true},
	{Key: "sttProfanityFilter", ServerKey: "stt_profanity_filter", Kind: KindBool, Default: false},
	{Key: "sttDiarization", ServerKey: "stt_diarization", Kind: KindBool, Default: false},
	{Key: "sttMultilingual", ServerKey: "stt_multilingual", Kind: KindBool, Default: false},
	{Key: "interruptWords", ServerKey: "interruption_threshold", Kind: KindNumber, Default: 0.0},
	{Key: "interruptRMS", ServerKey: "voice_sensitivity", Kind: KindNumber, Default: 500.0},
	{Key: "silence", ServerKey: "silence_timeout_ms", Kind: KindNumber, Default: 5000.0},
	{Key: "inputMin", ServerKey: "input_min_characters", Kind: KindNumber, Default: 0.0},
	{Key: "blacklist", ServerKey: "hallucination_blacklist", Kind: KindString, Default: ""},
	{Key: "denoise", ServerKey: "enable_denoising", Kind: KindBool, Default: false},

	// Flow
	{Key: "idleTimeout", ServerKey: "idle_timeout", Kind: KindNumber, Default: 10.0},
	{Key: "maxDuration", ServerKey: "max_duration", Kind: KindNumber, Default: 600.0},
	{Key: "idleMessage", ServerKey: "idle_message", Kind: KindString, Default: ""},
	{Key: "maxRetries", ServerKey: "inactivity_max_retries", Kind: KindNumber, Default: 3.0},
	{Key: "bargeInEnabled", ServerKey: "barge_in_enabled", Kind: KindBool, Default: false},
	{Key: "interruptionSensitivity", ServerKey: "interruption_sensitivity", Kind: KindNumber, Default: 0.5},
	{Key: "interruptionPhrases", ServerKey: "interruption_phrases", Kind: KindString, Default: ""},
	{Key: "voicemailDetectionEnabled", ServerKey: "voicemail_detection_enabled", Kind: KindBool, Default: false},
	{Key: "voicemailMessage", ServerKey: "voicemail_message", Kind: KindString, Default: ""},
	{Key: "machineDetectionSensitivity", ServerKey: "machine_detection_sensitivity", Kind: KindNumber, Default: 0.5},
	{Key: "responseDelaySeconds", ServerKey: "response_delay_seconds", Kind: KindNumber, Default: 0.0},
	{Key: "waitForGreeting", ServerKey: "wait_for_greeting", Kind: KindBool, Default: false},
	{Key: "hyphenationEnabled", ServerKey: "hyphenation_enabled", Kind: KindBool, Default: false},
	{Key: "endCallPhrases", ServerKey: "end_call_phrases", Kind: KindJSON, Default: ""},
	{Key: "transferNum", ServerKey: "transfer_phone_number", Kind: KindString, Default: ""},

	// Tools & orchestration
	{Key: "toolsSchema", ServerKey: "tools_schema", Kind: KindJSON, Default: ""},
	{Key: "asyncTools", ServerKey: "tools_async", Kind: KindBool, Default: false},
	{Key: "clientToolsEnabled", ServerKey: "client_tools_enabled", Kind: KindBool, Default: false},
	{Key: "toolServerUrl", ServerKey: "tool_server_url", Kind: KindString, Default: ""},
	{Key: "toolServerSecret", ServerKey: "tool_server_secret", Kind: KindString, Default: ""},
	{Key: "toolTimeoutMs", ServerKey: "tool_timeout_ms", Kind: KindNumber, Default: 5000.0},
	{Key: "toolRetryCount", ServerKey: "tool_retry_count", Kind: KindNumber, Default: 0.0},
	{Key: "toolErrorMsg", ServerKey: "tool_error_msg", Kind: KindString, Default: ""},
	{Key: "redactParams", ServerKey: "redact_params", Kind: KindJSON, Default: ""},
	{Key: "transferWhitelist", ServerKey: "transfer_whitelist", Kind: KindJSON, Default: ""},
	{Key: "stateInjectionEnabled", ServerKey: "state_injection_enabled", Kind: KindBool, Default: true},

	// Analysis
	{Key: "analysisPrompt", ServerKey: "analysis_prompt", Kind: KindString, Default: ""},
	{Key: "successRubric", ServerKey: "success_rubric", Kind: KindString, Default: ""},
	{Key: "sentimentAnalysis", ServerKey: "sentiment_analysis", Kind: KindBool, Default: false},
	{Key: "costTrackingEnabled", ServerKey: "cost_tracking_enabled", Kind: KindBool, Default: false},
	{Key: "extractionSchema", ServerKey: "extraction_schema", Kind: KindJSON, Default: ""},
	{Key: "piiRedactionEnabled", ServerKey: "pii_redaction_enabled", Kind: KindBool, Default: false},
	{Key: "logWebhookUrl", ServerKey: "log_webhook_url", Kind: KindString, Default: ""},
	{Key: "retentionDays", ServerKey: "retention_days", Kind: KindNumber, Default: 30.0},

	// CRM
	{Key: "crmEnabled", ServerKey: "crm_enabled", Kind: KindBool, Default: false},
	{Key: "baserowToken", ServerKey: "baserow_token", Kind: KindString, Default: ""},
	{Key: "baserowTableId", ServerKey: "baserow_table_id", Kind: KindString, Default: ""},
	{Key: "webhookUrl", ServerKey: "webhook_url", Kind: KindString, Default: ""},
	{Key: "webhookSecret", ServerKey: "webhook_secret", Kind: KindString, Default: ""},

	// System
	{Key: "concurrencyLimit", ServerKey: "concurrency_limit", Kind: KindNumber, Default: 10.0},
	{Key: "spendLimitDaily", ServerKey: "spend_limit_daily", Kind: KindNumber, Default: 50.0},
	{Key: "environment", ServerKey: "environment", Kind: KindString, Default: "development"},
	{Key: "privacyMode", ServerKey: "privacy_mode", Kind: KindBool, Default: false},
	{Key: "auditLogEnabled", ServerKey: "audit_log_enabled", Kind: KindBool, Default: true},
}

var defIndex = func() map[string]FieldDef {
	m := make(map[string]FieldDef, len(FieldDefs))
	for _, s := range FieldDefs {
		m[s.Key] = s
	}
	return m
}()

// SetField assigns an independent field after coercing v to its kind.
// Chain fields are rejected; they must go through reconciliation.
func (p *Profile) SetField(key string, v any) error {
	if Field(key).IsChain() {
		return fmt.Errorf("profile: %q is a chain field", key)
	}
	fd, ok := defIndex[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	cv, err := fd.coerce(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	p.Fields[key] = cv
	return nil
}

// String returns an independent field rendered as text.
func (p *Profile) String(key string) string {
	return asString(p.Fields[key])
}

// coerce converts a raw snapshot or edit value to the field's kind.
func (s FieldDef) coerce(v any) (any, error) {
	switch s.Kind {
	case KindNumber:
		return toFloat(v)
	case KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}
		return nil, fmt.Errorf("want bool, got %T", v)
	case KindJSON:
		if str, ok := v.(string); ok {
			return str, nil
		}
		if v == nil {
			return "", nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return asString(v), nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("want number, got %T", v)
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
