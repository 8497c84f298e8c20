// Package openaicompat implements llm.Provider against any endpoint speaking the
// OpenAI Chat Completions protocol (OpenAI itself, Azure-style gateways, local
// vLLM / Ollama servers).
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName:  "openai",
//	    APIKey:        cfg.LLM.APIKey,
//	    BaseURL:       "https://api.openai.com",
//	    DefaultModel:  cfg.LLM.Model,
//	    FallbackModel: "gpt-4o",
//	}, logger)
package openaicompat
