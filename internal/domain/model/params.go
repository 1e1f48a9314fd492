package model

import (
	"encoding/json"
	"fmt"
)

// ErrUnknownVariant is returned by DecodeParams for a tag with no known
// params shape.
type ErrUnknownVariant struct {
	Variant Variant
}

func (e *ErrUnknownVariant) Error() string {
	return fmt.Sprintf("unknown storage variant %q", e.Variant)
}

// EncodeParams serializes params as JSON. The variant tag is stored
// separately by callers.
func EncodeParams(p Params) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode params: nil params")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", p.Variant(), err)
	}
	return data, nil
}

// DecodeParams parses JSON produced by EncodeParams into the concrete
// params type for v.
func DecodeParams(v Variant, data []byte) (Params, error) {
	switch v {
	case VariantMemory:
		return decodeInto[MemoryParams](v, data)
	case VariantLocal:
		return decodeInto[LocalParams](v, data)
	case VariantGitHub:
		return decodeInto[GitHubParams](v, data)
	case VariantS3:
		return decodeInto[S3Params](v, data)
	default:
		return nil, &ErrUnknownVariant{Variant: v}
	}
}

func decodeInto[T Params](v Variant, data []byte) (Params, error) {
	var p T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", v, err)
		}
	}
	return p, nil
}

// NormalizeParams returns the value form of a pointer to one of the known
// params types, so the stored record no longer aliases the caller's value.
// A nil pointer is rejected. Nil params and other types pass through
// unchanged.
func NormalizeParams(p Params) (Params, error) {
	switch v := p.(type) {
	case *MemoryParams:
		return deref(v)
	case *LocalParams:
		return deref(v)
	case *GitHubParams:
		return deref(v)
	case *S3Params:
		return deref(v)
	default:
		return p, nil
	}
}

func deref[T Params](p *T) (Params, error) {
	if p == nil {
		return nil, fmt.Errorf("nil %T params", p)
	}
	return *p, nil
}
