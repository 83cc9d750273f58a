package ragged

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestFromCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		counts  []int
		wantErr error
		ends    []int
	}{
		{name: "two samples", counts: []int{30, 70}, ends: []int{30, 100}},
		{name: "single", counts: []int{1}, ends: []int{1}},
		{name: "empty sample", counts: []int{3, 0, 2}, wantErr: ErrEmptyGroup},
		{name: "negative", counts: []int{-1}, wantErr: ErrEmptyGroup},
		{name: "no groups", counts: nil, wantErr: ErrNoGroups},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := FromCounts(tt.counts)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ends, o.Ends())
			assert.Equal(t, tt.counts, o.Counts())
		})
	}
}

func TestFromEnds_StrictlyIncreasing(t *testing.T) {
	_, err := FromEnds([]int{30, 30})
	assert.ErrorIs(t, err, ErrEmptyGroup)

	_, err = FromEnds([]int{0, 10})
	assert.ErrorIs(t, err, ErrEmptyGroup)

	o, err := FromEnds([]int{30, 100})
	require.NoError(t, err)
	assert.Equal(t, 100, o.Total())
	assert.Equal(t, 70, o.Count(1))
}

func TestSampleIndexAndSpan(t *testing.T) {
	o := MustFromCounts(2, 1, 3)
	assert.Equal(t, []int{0, 0, 1, 2, 2, 2}, o.SampleIndex())

	s, e := o.Span(2)
	assert.Equal(t, 3, s)
	assert.Equal(t, 6, e)

	assert.NoError(t, o.Check(6))
	assert.ErrorIs(t, o.Check(5), ErrLengthMismatch)
	assert.ErrorIs(t, Offsets{}.Check(0), ErrNoGroups)
}

func TestGrow(t *testing.T) {
	o := MustFromCounts(1, 2).Grow(1)
	assert.Equal(t, []int{2, 3}, o.Counts())
	assert.True(t, o.Equal(MustFromCounts(2, 3)))
	assert.False(t, o.Equal(MustFromCounts(2, 3, 1)))
}

func TestMaxMeanRows(t *testing.T) {
	m := mat.NewDense(5, 2, []float64{
		1, -1,
		3, -5,
		2, 0,
		-4, 7,
		0, 1,
	})
	o := MustFromCounts(2, 3)

	mx, err := MaxRows(m, o)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, -1, 2, 7}, mx.RawMatrix().Data)

	mean, err := MeanRows(m, o)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, -3, -2.0 / 3, 8.0 / 3}, mean.RawMatrix().Data, 1e-12)

	_, err = MaxRows(m, MustFromCounts(2, 2))
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestRowsIsView(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	o := MustFromCounts(1, 2)
	v := Rows(m, o, 1)
	r, c := v.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	v.Set(0, 0, 30)
	assert.Equal(t, 30.0, m.At(1, 0))
}

func TestSoftmax_PerGroupSumsToOne(t *testing.T) {
	o := MustFromCounts(3, 1, 4)
	logits := []float64{1, 2, 3, 100, -2, 0, 2, 500}

	for _, temp := range []float64{0.1, 1, 10} {
		w, err := Softmax(logits, o, temp)
		require.NoError(t, err)
		for g := 0; g < o.Len(); g++ {
			s, e := o.Span(g)
			assert.InDelta(t, 1.0, floats.Sum(w[s:e]), 1e-12, "group %d temp %v", g, temp)
		}
		for _, v := range w {
			assert.False(t, math.IsNaN(v))
		}
	}

	_, err := Softmax(logits, o, 0)
	assert.ErrorIs(t, err, ErrBadTemperature)
	_, err = Softmax(logits[:3], o, 1)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestWeightedSum(t *testing.T) {
	o := MustFromCounts(2, 1)
	m := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		4, 4,
	})
	out, err := WeightedSum([]float64{0.25, 0.75, 1}, m, o)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.75, 4, 4}, out.RawMatrix().Data)

	_, err = WeightedSum([]float64{1}, m, o)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}
