package server

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"apx-evs/internal/config"
	"apx-evs/internal/evframe"
	"apx-evs/internal/evs"
	"apx-evs/internal/models"
	"apx-evs/internal/npz"
)

// PreviewServer 事件数据预览服务器核心
type PreviewServer struct {
	basePath string
	loaded   bool
	layout   config.PayloadLayout
	useCache bool

	mu       sync.RWMutex
	captures []CaptureInfo
	archives []ArchiveInfo
	streams  map[string]*models.EventStream // 按归档名缓存的事件流
}

// NewPreviewServer 创建预览服务器
func NewPreviewServer(basePath string) *PreviewServer {
	return &PreviewServer{
		basePath: basePath,
		layout:   config.LayoutHeader128,
		useCache: true,
		streams:  make(map[string]*models.EventStream),
	}
}

// Load 扫描数据目录
func (s *PreviewServer) Load() error {
	s.mu.RLock()
	basePath := s.basePath
	s.mu.RUnlock()

	info, err := os.Stat(basePath)
	if err != nil {
		return fmt.Errorf("数据目录不存在: %s", basePath)
	}
	if !info.IsDir() {
		return fmt.Errorf("数据路径不是目录: %s", basePath)
	}

	captures, err := scanCaptures(basePath)
	if err != nil {
		return err
	}
	archives, err := scanArchives(basePath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.captures = captures
	s.archives = archives
	s.streams = make(map[string]*models.EventStream)
	s.loaded = true
	s.mu.Unlock()

	fmt.Printf("[Preview] ✓ 已加载 %d 个采集文件, %d 个事件归档\n", len(captures), len(archives))
	return nil
}

// scanCaptures 扫描成对出现的 .bin / _info.txt 采集文件
func scanCaptures(basePath string) ([]CaptureInfo, error) {
	paths, err := filepath.Glob(filepath.Join(basePath, "*.bin"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var captures []CaptureInfo
	for _, binPath := range paths {
		geom, stamp, err := config.ParseCaptureName(binPath)
		if err != nil {
			// 目录里可能混有无关的 bin 文件
			continue
		}
		infoPath := config.InfoPathFor(binPath)
		if _, err := os.Stat(infoPath); err != nil {
			fmt.Printf("[Preview] 缺少索引表, 已跳过: %s\n", binPath)
			continue
		}
		fi, err := os.Stat(binPath)
		if err != nil {
			continue
		}
		captures = append(captures, CaptureInfo{
			Name:   filepath.Base(binPath),
			Stamp:  stamp,
			Width:  geom.Width,
			Height: geom.Height,
			Size:   fi.Size(),
		})
	}
	return captures, nil
}

// scanArchives 扫描 npz 事件归档
func scanArchives(basePath string) ([]ArchiveInfo, error) {
	paths, err := filepath.Glob(filepath.Join(basePath, "*.npz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var archives []ArchiveInfo
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Name: filepath.Base(p),
			Size: fi.Size(),
		})
	}
	return archives, nil
}

// ==================== 查询方法 ====================

// IsLoaded 是否已加载
func (s *PreviewServer) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// GetBasePath 数据目录路径
func (s *PreviewServer) GetBasePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basePath
}

// GetCaptures 采集文件列表
func (s *PreviewServer) GetCaptures() []CaptureInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captures
}

// GetArchives 归档列表
func (s *PreviewServer) GetArchives() []ArchiveInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archives
}

// validateName 拒绝越出数据目录的文件名
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("缺少文件名")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("非法文件名: %s", name)
	}
	return nil
}

// ArchiveStream 加载归档事件流 (带缓存)
func (s *PreviewServer) ArchiveStream(name string) (*models.EventStream, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	stream, ok := s.streams[name]
	s.mu.RUnlock()
	if ok {
		return stream, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 双重检查: 等锁期间其他请求可能已完成加载
	if stream, ok := s.streams[name]; ok {
		return stream, nil
	}

	loaded, err := npz.Read(filepath.Join(s.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("读取归档失败: %v", err)
	}
	s.streams[name] = loaded
	fmt.Printf("[Preview] 已载入归档 %s (%d 个事件)\n", name, loaded.Len())
	return loaded, nil
}

// ArchiveSummary 归档概要信息
func (s *PreviewServer) ArchiveSummary(name string, head int) (*ArchiveSummary, error) {
	stream, err := s.ArchiveStream(name)
	if err != nil {
		return nil, err
	}

	summary := &ArchiveSummary{
		Name:          name,
		Events:        stream.Len(),
		DistinctTimes: stream.DistinctTimes(),
	}
	if t0, tn, ok := stream.TimeRange(); ok {
		summary.StartTime = t0
		summary.EndTime = tn
		summary.Duration = tn - t0
	}

	if head > stream.Len() {
		head = stream.Len()
	}
	for i := 0; i < head; i++ {
		summary.Head = append(summary.Head, EventInfo{
			T: stream.T[i],
			X: stream.X[i],
			Y: stream.Y[i],
			P: stream.P[i],
		})
	}
	return summary, nil
}

// RenderWindow 渲染归档中第 index 个时间窗口
// 分辨率来自请求参数, 渲染前必须校验
func (s *PreviewServer) RenderWindow(name string, fps, delta float64, index int, geom config.Geometry) (*image.Gray, evframe.Window, error) {
	if err := geom.Validate(); err != nil {
		return nil, evframe.Window{}, err
	}

	stream, err := s.ArchiveStream(name)
	if err != nil {
		return nil, evframe.Window{}, err
	}

	windows, err := evframe.Windows(stream, fps, delta)
	if err != nil {
		return nil, evframe.Window{}, err
	}
	if index < 0 || index >= len(windows) {
		return nil, evframe.Window{}, fmt.Errorf("窗口序号超出范围: %d (共 %d 个)", index, len(windows))
	}

	win := windows[index]
	part := stream.Select(win.Start, win.End, win.Closed)
	img := evframe.RenderFrame(part, geom, evframe.RenderOptions{
		PolarityMap: defaultPolarityMap(),
		Normalize:   true,
	})
	return img, win, nil
}

// defaultPolarityMap 预览用灰度映射
func defaultPolarityMap() map[int8]float32 {
	return map[int8]float32{
		models.PolarityOn:  200,
		models.PolarityOff: 100,
	}
}

// ConvertCapture 解码采集文件并写出归档
func (s *PreviewServer) ConvertCapture(name string) (*evs.ConvertResult, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	layout := s.layout
	useCache := s.useCache
	basePath := s.basePath
	s.mu.RUnlock()

	binPath := filepath.Join(basePath, name)
	if _, err := os.Stat(binPath); err != nil {
		return nil, fmt.Errorf("采集文件不存在: %s", name)
	}

	result, err := evs.Convert(binPath, basePath, layout, useCache)
	if err != nil {
		return nil, err
	}

	// 新归档立即可见
	if err := s.Load(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetConfig 当前服务器配置
func (s *PreviewServer) GetConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Config{
		DataPath: s.basePath,
		Layout:   s.layout.String(),
		UseCache: s.useCache,
		Loaded:   s.loaded,
		Captures: len(s.captures),
		Archives: len(s.archives),
	}
}

// SetDataPath 切换数据目录并重新扫描
func (s *PreviewServer) SetDataPath(path string) error {
	s.mu.Lock()
	s.basePath = path
	s.loaded = false
	s.mu.Unlock()
	return s.Load()
}

// SetLayout 切换载荷布局
func (s *PreviewServer) SetLayout(layout config.PayloadLayout) {
	s.mu.Lock()
	s.layout = layout
	s.mu.Unlock()
}

// SetUseCache 开关解码缓存
func (s *PreviewServer) SetUseCache(useCache bool) {
	s.mu.Lock()
	s.useCache = useCache
	s.mu.Unlock()
}

// Close 释放资源
func (s *PreviewServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string]*models.EventStream)
	s.loaded = false
}

// ==================== 数据类型 ====================

// CaptureInfo 采集文件信息
type CaptureInfo struct {
	Name   string `json:"name"`
	Stamp  string `json:"stamp"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
}

// ArchiveInfo 归档文件信息
type ArchiveInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// EventInfo 单个事件
type EventInfo struct {
	T float64 `json:"t"`
	X uint16  `json:"x"`
	Y uint16  `json:"y"`
	P int8    `json:"p"`
}

// ArchiveSummary 归档概要
type ArchiveSummary struct {
	Name          string      `json:"name"`
	Events        int         `json:"events"`
	DistinctTimes int         `json:"distinctTimes"`
	StartTime     float64     `json:"startTime"`
	EndTime       float64     `json:"endTime"`
	Duration      float64     `json:"duration"`
	Head          []EventInfo `json:"head,omitempty"`
}

// Config 服务器配置
type Config struct {
	DataPath string `json:"dataPath"`
	Layout   string `json:"layout"`
	UseCache bool   `json:"useCache"`
	Loaded   bool   `json:"loaded"`
	Captures int    `json:"captures"`
	Archives int    `json:"archives"`
}
