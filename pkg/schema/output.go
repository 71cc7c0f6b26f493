package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// OutputKind tags the variant held by a StepOutput.
type OutputKind string

const (
	OutputFile      OutputKind = "FILE"
	OutputSignature OutputKind = "SIGNATURE"
	OutputScalar    OutputKind = "SCALAR"
	OutputRecord    OutputKind = "RECORD"
	OutputOpaque    OutputKind = "OPAQUE"
)

// FileRef points at a stored file.
type FileRef struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// SignatureRef is the proof of a completed signature.
type SignatureRef struct {
	SignerID string     `json:"signer_id"`
	ProofURL string     `json:"proof_url,omitempty"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

// StepOutput is the recorded output of one step. Exactly one payload field
// is set, selected by Kind.
type StepOutput struct {
	Kind      OutputKind      `json:"kind"`
	File      *FileRef        `json:"file,omitempty"`
	Signature *SignatureRef   `json:"signature,omitempty"`
	Scalar    any             `json:"scalar,omitempty"`
	Record    map[string]any  `json:"record,omitempty"`
	Opaque    json.RawMessage `json:"opaque,omitempty"`
}

// FileOutput builds a FILE output.
func FileOutput(ref FileRef) *StepOutput {
	return &StepOutput{Kind: OutputFile, File: &ref}
}

// SignatureOutput builds a SIGNATURE output.
func SignatureOutput(ref SignatureRef) *StepOutput {
	return &StepOutput{Kind: OutputSignature, Signature: &ref}
}

// ScalarOutput builds a SCALAR output.
func ScalarOutput(v any) *StepOutput {
	return &StepOutput{Kind: OutputScalar, Scalar: v}
}

// RecordOutput builds a RECORD output.
func RecordOutput(m map[string]any) *StepOutput {
	return &StepOutput{Kind: OutputRecord, Record: m}
}

// OutputFromValue wraps an arbitrary Go value produced by an action.
func OutputFromValue(v any) *StepOutput {
	switch val := v.(type) {
	case nil:
		return nil
	case *StepOutput:
		return val
	case map[string]any:
		return RecordOutput(val)
	case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return ScalarOutput(val)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ScalarOutput(fmt.Sprint(v))
	}
	return &StepOutput{Kind: OutputOpaque, Opaque: raw}
}

// Value returns the plain value bound into variable scopes.
func (o *StepOutput) Value() any {
	if o == nil {
		return nil
	}
	switch o.Kind {
	case OutputFile:
		if o.File == nil {
			return nil
		}
		return map[string]any{"url": o.File.URL, "name": o.File.Name, "mime_type": o.File.MimeType}
	case OutputSignature:
		if o.Signature == nil {
			return nil
		}
		m := map[string]any{"signer_id": o.Signature.SignerID, "proof_url": o.Signature.ProofURL}
		if o.Signature.SignedAt != nil {
			m["signed_at"] = o.Signature.SignedAt.Format(time.RFC3339)
		}
		return m
	case OutputScalar:
		return o.Scalar
	case OutputRecord:
		return o.Record
	case OutputOpaque:
		var v any
		if err := json.Unmarshal(o.Opaque, &v); err != nil {
			return string(o.Opaque)
		}
		return v
	}
	return nil
}

// ParseOutput classifies an untyped JSON payload. A payload that already
// carries a known "kind" is decoded as-is; objects become RECORD, JSON
// scalars become SCALAR and anything else is kept OPAQUE.
func ParseOutput(raw json.RawMessage) (*StepOutput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var probe struct {
		Kind OutputKind `json:"kind"`
	}
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &probe) == nil {
		switch probe.Kind {
		case OutputFile, OutputSignature, OutputScalar, OutputRecord, OutputOpaque:
			var out StepOutput
			if err := json.Unmarshal(trimmed, &out); err != nil {
				return nil, fmt.Errorf("invalid %s output: %w", probe.Kind, err)
			}
			return &out, nil
		}
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("invalid output: %w", err)
	}
	switch val := v.(type) {
	case map[string]any:
		return RecordOutput(val), nil
	case string, bool, float64:
		return ScalarOutput(val), nil
	}
	return &StepOutput{Kind: OutputOpaque, Opaque: append(json.RawMessage(nil), trimmed...)}, nil
}
