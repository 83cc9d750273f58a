package policy

import "fmt"

// Reduce selects how per-point embeddings are pooled before the
// rotation/openness/stop MLP.
type Reduce string

const (
	ReduceMax  Reduce = "max"
	ReduceMean Reduce = "mean"
	ReduceAttn Reduce = "attn"
)

// ParseReduce validates a reduction mode name.
func ParseReduce(s string) (Reduce, error) {
	switch r := Reduce(s); r {
	case ReduceMax, ReduceMean, ReduceAttn:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown reduce mode %q", ErrInvalidConfig, s)
}

// PosPred selects the position prediction head.
type PosPred string

const (
	// PosHeatmapMLP predicts a per-point weight and offset; the position is
	// the softmax-weighted mean of the offset points.
	PosHeatmapMLP PosPred = "heatmap_mlp"
	// PosHeatmapDisc predicts per-axis, per-point bin logits.
	PosHeatmapDisc PosPred = "heatmap_disc"
)

// ParsePosPred validates a position prediction mode name.
func ParsePosPred(s string) (PosPred, error) {
	switch p := PosPred(s); p {
	case PosHeatmapMLP, PosHeatmapDisc:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown position prediction type %q", ErrInvalidConfig, s)
}

// RotPred selects the rotation representation.
type RotPred string

const (
	RotQuat      RotPred = "quat"
	RotOrtho6D   RotPred = "rot6d"
	RotEuler     RotPred = "euler"
	RotEulerDisc RotPred = "euler_disc"
)

// ParseRotPred validates a rotation representation name.
func ParseRotPred(s string) (RotPred, error) {
	switch r := RotPred(s); r {
	case RotQuat, RotOrtho6D, RotEuler, RotEulerDisc:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown rotation prediction type %q", ErrInvalidConfig, s)
}

// TargetWidth is the number of rotation columns in a ground-truth action
// row: a quaternion for quat and rot6d, three normalised angles for euler
// and three bin indices for euler_disc.
func (r RotPred) TargetWidth() int {
	switch r {
	case RotEuler, RotEulerDisc:
		return 3
	default:
		return 4
	}
}

// TextReduce selects how instruction tokens are pooled into one context
// vector.
type TextReduce string

const (
	TextMean TextReduce = "mean"
	TextAttn TextReduce = "attn"
)

// ParseTextReduce validates a text reduction mode name.
func ParseTextReduce(s string) (TextReduce, error) {
	switch r := TextReduce(s); r {
	case TextMean, TextAttn:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown text reduce mode %q", ErrInvalidConfig, s)
}

// Variant selects how the context reaches the backbone.
type Variant string

const (
	// VariantAdaNorm feeds one context vector per sample.
	VariantAdaNorm Variant = "adanorm"
	// VariantCrossAttn feeds a ragged context token sequence.
	VariantCrossAttn Variant = "ca"
)

// ParseVariant validates a model variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantAdaNorm, VariantCrossAttn:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown model variant %q", ErrInvalidConfig, s)
}
