package models

import (
	"fmt"
	"sort"
)

// Polarity 极性常量
const (
	PolarityOn  int8 = 1  // 亮度上升
	PolarityOff int8 = -1 // 亮度下降
)

// Record 索引文件中的一条记录, 定位采集文件内的一个数据块
type Record struct {
	TimestampUs int64 // 微秒时间戳
	Offset      int64 // 块起始偏移
	Length      int64 // 块字节数
}

// EventStream 事件流 (列式存储, 四列等长)
// T 为秒级时间戳, P 取 +1/-1
type EventStream struct {
	T []float64
	X []uint16
	Y []uint16
	P []int8
}

// Len 事件总数
func (s *EventStream) Len() int {
	return len(s.T)
}

// AppendRecord 追加一条记录解码出的事件, 时间戳统一为 t
func (s *EventStream) AppendRecord(t float64, xs, ys []uint16, ps []int8) {
	for range xs {
		s.T = append(s.T, t)
	}
	s.X = append(s.X, xs...)
	s.Y = append(s.Y, ys...)
	s.P = append(s.P, ps...)
}

// Concat 将 other 整体追加到 s 末尾
func (s *EventStream) Concat(other *EventStream) {
	s.T = append(s.T, other.T...)
	s.X = append(s.X, other.X...)
	s.Y = append(s.Y, other.Y...)
	s.P = append(s.P, other.P...)
}

// TimeRange 返回最早与最晚时间戳, 空流返回 ok=false
func (s *EventStream) TimeRange() (t0, tn float64, ok bool) {
	if len(s.T) == 0 {
		return 0, 0, false
	}
	t0, tn = s.T[0], s.T[0]
	for _, t := range s.T[1:] {
		if t < t0 {
			t0 = t
		}
		if t > tn {
			tn = t
		}
	}
	return t0, tn, true
}

// DistinctTimes 不同时间戳的个数
func (s *EventStream) DistinctTimes() int {
	if len(s.T) == 0 {
		return 0
	}
	ts := make([]float64, len(s.T))
	copy(ts, s.T)
	sort.Float64s(ts)

	n := 1
	for i := 1; i < len(ts); i++ {
		if ts[i] != ts[i-1] {
			n++
		}
	}
	return n
}

// Select 截取时间窗口内的事件, 区间为 [start, end), closed 时为 [start, end]
func (s *EventStream) Select(start, end float64, closed bool) *EventStream {
	out := &EventStream{}
	for i, t := range s.T {
		if t < start {
			continue
		}
		if t < end || closed && t == end {
			out.T = append(out.T, t)
			out.X = append(out.X, s.X[i])
			out.Y = append(out.Y, s.Y[i])
			out.P = append(out.P, s.P[i])
		}
	}
	return out
}

// SortByTime 按时间戳稳定排序, 同刻事件保持原有相对顺序
func (s *EventStream) SortByTime() {
	n := len(s.T)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.T[idx[a]] < s.T[idx[b]]
	})

	t := make([]float64, n)
	x := make([]uint16, n)
	y := make([]uint16, n)
	p := make([]int8, n)
	for i, j := range idx {
		t[i] = s.T[j]
		x[i] = s.X[j]
		y[i] = s.Y[j]
		p[i] = s.P[j]
	}
	s.T, s.X, s.Y, s.P = t, x, y, p
}

// Validate 检查四列等长且坐标落在分辨率范围内
func (s *EventStream) Validate(width, height int) error {
	n := len(s.T)
	if len(s.X) != n || len(s.Y) != n || len(s.P) != n {
		return fmt.Errorf("事件流列长不一致: t=%d x=%d y=%d p=%d",
			len(s.T), len(s.X), len(s.Y), len(s.P))
	}
	for i := 0; i < n; i++ {
		if int(s.X[i]) >= width || int(s.Y[i]) >= height {
			return fmt.Errorf("事件 %d 坐标越界: (%d, %d) 超出 %dx%d",
				i, s.X[i], s.Y[i], width, height)
		}
	}
	return nil
}
