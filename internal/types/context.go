package types

import (
	"encoding/json"
	"fmt"
)

// ContextKind tags the AgentContext variant.
type ContextKind string

const (
	ContextText      ContextKind = "text"
	ContextTextImage ContextKind = "text_image"
	ContextVideo     ContextKind = "video"
)

// AgentContext is the closed tagged union handed from the manager to a media
// checker. Exactly the fields belonging to Kind may be set; the orchestrator
// validates the tag against the route at a single chokepoint before dispatch.
type AgentContext struct {
	Kind            ContextKind `json:"contextType"`
	OCRText         string      `json:"ocrText,omitempty"`
	Hints           []string    `json:"hints,omitempty"`
	ImageRef        string      `json:"imageRef,omitempty"`
	TranscriptDelta string      `json:"transcriptDelta,omitempty"`
}

// TextContext builds the text variant.
func TextContext(ocrText string, hints []string) *AgentContext {
	return &AgentContext{Kind: ContextText, OCRText: ocrText, Hints: hints}
}

// TextImageContext builds the text+image variant.
func TextImageContext(ocrText string, hints []string, imageRef string) *AgentContext {
	return &AgentContext{Kind: ContextTextImage, OCRText: ocrText, Hints: hints, ImageRef: imageRef}
}

// VideoContext builds the video variant.
func VideoContext(ocrText string, hints []string, transcriptDelta string) *AgentContext {
	return &AgentContext{Kind: ContextVideo, OCRText: ocrText, Hints: hints, TranscriptDelta: transcriptDelta}
}

// CheckShape verifies that the populated fields are consistent with Kind,
// independent of any route. Route agreement is the orchestrator's job.
func (c *AgentContext) CheckShape() error {
	switch c.Kind {
	case ContextText:
		if c.ImageRef != "" || c.TranscriptDelta != "" {
			return fmt.Errorf("text context must not carry imageRef or transcriptDelta")
		}
	case ContextTextImage:
		if c.ImageRef == "" {
			return fmt.Errorf("text_image context requires a non-empty imageRef")
		}
		if c.TranscriptDelta != "" {
			return fmt.Errorf("text_image context must not carry transcriptDelta")
		}
	case ContextVideo:
		if c.TranscriptDelta == "" {
			return fmt.Errorf("video context requires a non-empty transcriptDelta")
		}
		if c.ImageRef != "" {
			return fmt.Errorf("video context must not carry imageRef")
		}
	default:
		return fmt.Errorf("unknown context kind %q", c.Kind)
	}
	return nil
}

// UnmarshalJSON rejects payloads without a recognizable tag so a malformed
// manager reply fails at parse time rather than at dispatch.
func (c *AgentContext) UnmarshalJSON(data []byte) error {
	type raw AgentContext
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	switch r.Kind {
	case ContextText, ContextTextImage, ContextVideo:
	default:
		return fmt.Errorf("agent context: unknown contextType %q", r.Kind)
	}
	*c = AgentContext(r)
	return nil
}
