package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func streamOf(ts ...float64) *EventStream {
	s := &EventStream{}
	for i, t := range ts {
		s.T = append(s.T, t)
		s.X = append(s.X, uint16(i))
		s.Y = append(s.Y, uint16(i))
		s.P = append(s.P, PolarityOn)
	}
	return s
}

func Test_append_record_stamps_same_time(t *testing.T) {
	should := require.New(t)

	s := &EventStream{}
	s.AppendRecord(0.5, []uint16{1, 2, 3}, []uint16{4, 5, 6}, []int8{1, -1, 1})

	should.Equal(3, s.Len())
	should.Equal([]float64{0.5, 0.5, 0.5}, s.T)
	should.Equal([]uint16{1, 2, 3}, s.X)
	should.Equal([]uint16{4, 5, 6}, s.Y)
	should.Equal([]int8{1, -1, 1}, s.P)
}

func Test_concat_preserves_order(t *testing.T) {
	should := require.New(t)

	a := streamOf(5, 1)
	b := streamOf(3)
	a.Concat(b)

	should.Equal(3, a.Len())
	should.Equal([]float64{5, 1, 3}, a.T)
}

func Test_time_range(t *testing.T) {
	should := require.New(t)

	_, _, ok := (&EventStream{}).TimeRange()
	should.False(ok)

	t0, tn, ok := streamOf(3, 1, 2).TimeRange()
	should.True(ok)
	should.Equal(1.0, t0)
	should.Equal(3.0, tn)
}

func Test_distinct_times(t *testing.T) {
	should := require.New(t)

	should.Equal(0, (&EventStream{}).DistinctTimes())
	should.Equal(1, streamOf(2, 2, 2).DistinctTimes())
	// 计数与存储顺序无关
	should.Equal(3, streamOf(2, 1, 2, 3, 1).DistinctTimes())
}

func Test_select_half_open_window(t *testing.T) {
	should := require.New(t)

	s := streamOf(1, 2, 3, 4)
	out := s.Select(2, 4, false)
	should.Equal([]float64{2, 3}, out.T)
}

func Test_select_closed_window_includes_end(t *testing.T) {
	should := require.New(t)

	s := streamOf(1, 2, 3, 4)
	out := s.Select(2, 4, true)
	should.Equal([]float64{2, 3, 4}, out.T)
}

func Test_select_keeps_columns_aligned(t *testing.T) {
	should := require.New(t)

	s := &EventStream{
		T: []float64{1, 2, 3},
		X: []uint16{10, 20, 30},
		Y: []uint16{11, 21, 31},
		P: []int8{1, -1, 1},
	}
	out := s.Select(2, 3, false)
	should.Equal(1, out.Len())
	should.Equal(uint16(20), out.X[0])
	should.Equal(uint16(21), out.Y[0])
	should.Equal(int8(-1), out.P[0])
}

func Test_sort_by_time_is_stable(t *testing.T) {
	should := require.New(t)

	s := &EventStream{
		T: []float64{5, 1, 5, 3},
		X: []uint16{0, 1, 2, 3},
		Y: []uint16{0, 0, 0, 0},
		P: []int8{1, 1, -1, 1},
	}
	s.SortByTime()

	should.Equal([]float64{1, 3, 5, 5}, s.T)
	// 同为 t=5 的两个事件保持原有相对顺序
	should.Equal([]uint16{1, 3, 0, 2}, s.X)
	should.Equal([]int8{1, 1, 1, -1}, s.P)
}

func Test_validate_catches_out_of_bounds(t *testing.T) {
	should := require.New(t)

	s := &EventStream{
		T: []float64{1},
		X: []uint16{4},
		Y: []uint16{0},
		P: []int8{1},
	}
	should.NotNil(s.Validate(4, 4))
	should.Nil(s.Validate(5, 4))

	s.P = nil
	should.NotNil(s.Validate(5, 4))
}
