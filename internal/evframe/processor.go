// Package evframe 事件流的时间分帧与归档合并
package evframe

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"apx-evs/internal/config"
	"apx-evs/internal/models"
	"apx-evs/internal/npz"
)

// InsufficientResolutionError 请求帧率超过流中不同时间戳的个数
type InsufficientResolutionError struct {
	FPS           float64
	DistinctTimes int
}

func (e *InsufficientResolutionError) Error() string {
	return fmt.Sprintf("无法提供该帧率的输出, 当前不同时间戳数量为 %d (请求 fps=%v)",
		e.DistinctTimes, e.FPS)
}

// Window 一个时间窗口
type Window struct {
	Index  int
	Start  float64
	End    float64
	Closed bool // 闭区间, 仅末窗口
}

// Windows 按目标帧率划分时间窗口
// dt = 1/fps, 窗口长度 w = max(dt, delta); 窗口 i 覆盖 [end-w, end),
// end = t0+(i+1)*dt; end 恰为 tn 的窗口取闭区间, 保证最大时间戳不被丢弃
func Windows(s *models.EventStream, fps, delta float64) ([]Window, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("帧率必须为正: %v", fps)
	}

	distinct := s.DistinctTimes()
	if fps > float64(distinct) {
		return nil, &InsufficientResolutionError{FPS: fps, DistinctTimes: distinct}
	}

	t0, tn, _ := s.TimeRange()
	dt := 1.0 / fps
	w := dt
	if delta > dt {
		w = delta
	}

	n := int(math.Ceil((tn - t0) / dt))
	if n < 1 {
		// 所有事件同一瞬间时仍然给出一个窗口
		n = 1
	}

	windows := make([]Window, n)
	for i := range windows {
		end := t0 + float64(i+1)*dt
		windows[i] = Window{
			Index:  i,
			Start:  end - w,
			End:    end,
			Closed: end == tn,
		}
	}
	return windows, nil
}

// FrameOptions 分帧选项
type FrameOptions struct {
	Delta       float64          // 窗口时长覆盖, 大于 1/fps 才生效
	SaveEmpty   bool             // 是否写出空窗口归档
	SavePNG     bool             // 是否同时渲染灰度图
	Normalize   bool             // 渲染时按最大累积值归一化
	PolarityMap map[int8]float32 // 渲染时的极性灰度映射
}

// FrameReport 分帧统计
type FrameReport struct {
	Windows int
	Written int
	Skipped int
	NpzDir  string
	PngDir  string
}

// Processor 将事件流切分为时间窗口帧
type Processor struct {
	Name     string
	Stream   *models.EventStream
	Geom     config.Geometry
	RootPath string
}

// NewProcessor 由内存中的事件流构造
func NewProcessor(name string, s *models.EventStream, geom config.Geometry, rootPath string) *Processor {
	return &Processor{
		Name:     name,
		Stream:   s,
		Geom:     geom,
		RootPath: rootPath,
	}
}

// LoadProcessor 从事件归档构造, 名称与输出根目录取自归档路径
func LoadProcessor(npzPath string, geom config.Geometry) (*Processor, error) {
	s, err := npz.Read(npzPath)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(npzPath), filepath.Ext(npzPath))
	return NewProcessor(base, s, geom, filepath.Dir(npzPath)), nil
}

// MakeEventFrames 按帧率切分事件流并逐窗口写出归档
// 输出目录 <root>/<name>_event_frame/npz, 文件名为四位窗口序号;
// 空窗口按 SaveEmpty 决定写出或跳过, 跳过不影响序号
func (p *Processor) MakeEventFrames(fps float64, opts FrameOptions) (*FrameReport, error) {
	if err := p.Geom.Validate(); err != nil {
		return nil, err
	}

	windows, err := Windows(p.Stream, fps, opts.Delta)
	if err != nil {
		return nil, err
	}

	root := filepath.Join(p.RootPath, p.Name+config.FrameDirSuffix)
	npzDir := filepath.Join(root, config.NpzSubdir)
	if err := os.MkdirAll(npzDir, 0755); err != nil {
		return nil, err
	}

	pngDir := ""
	if opts.SavePNG {
		pngDir = filepath.Join(root, config.PngSubdir)
		if err := os.MkdirAll(pngDir, 0755); err != nil {
			return nil, err
		}
	}

	report := &FrameReport{Windows: len(windows), NpzDir: npzDir, PngDir: pngDir}
	for _, win := range windows {
		sub := p.Stream.Select(win.Start, win.End, win.Closed)
		if sub.Len() == 0 && !opts.SaveEmpty {
			report.Skipped++
			continue
		}

		outPath := filepath.Join(npzDir, fmt.Sprintf("%04d.npz", win.Index))
		if err := npz.Write(outPath, sub); err != nil {
			return nil, err
		}
		report.Written++

		if opts.SavePNG {
			img := RenderFrame(sub, p.Geom, RenderOptions{
				PolarityMap: opts.PolarityMap,
				Increment:   255,
				Normalize:   opts.Normalize,
			})
			pngPath := filepath.Join(pngDir, fmt.Sprintf("%04d.png", win.Index))
			if err := WritePNG(pngPath, img); err != nil {
				return nil, err
			}
		}
	}

	fmt.Printf("[Frames] ✓ 分帧完成: %d 个窗口, 写出 %d, 跳过 %d\n",
		len(windows), report.Written, report.Skipped)
	return report, nil
}
