package server

import (
	"image/png"
	"slices"
	"strconv"
	"sync"

	"github.com/kataras/iris/v12"

	"apx-evs/internal/config"
)

// PreviewCache 单个路径的预览服务器缓存数据
type PreviewCache struct {
	preview *PreviewServer
	hash    string // captureCount-archiveCount 用于验证缓存有效性
}

// Handlers API 处理器
type Handlers struct {
	preview *PreviewServer
	mu      sync.RWMutex

	// 路径历史记录（最多保留 10 个）
	pathHistory []string

	// 路径 -> PreviewServer 缓存 Map
	previewCache map[string]*PreviewCache
}

const maxPathHistory = 10

// NewHandlers 创建处理器
func NewHandlers(preview *PreviewServer) *Handlers {
	return &Handlers{
		preview:      preview,
		pathHistory:  []string{},
		previewCache: make(map[string]*PreviewCache),
	}
}

// computePreviewHash 计算预览缓存的 hash 值
func computePreviewHash(preview *PreviewServer) string {
	cfg := preview.GetConfig()
	return strconv.Itoa(cfg.Captures) + "-" + strconv.Itoa(cfg.Archives)
}

// addToPathHistory 把路径移到历史记录开头, 去重并限制数量
func (h *Handlers) addToPathHistory(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i := slices.Index(h.pathHistory, path); i >= 0 {
		h.pathHistory = slices.Delete(h.pathHistory, i, i+1)
	}
	h.pathHistory = slices.Insert(h.pathHistory, 0, path)
	if len(h.pathHistory) > maxPathHistory {
		h.pathHistory = h.pathHistory[:maxPathHistory]
	}
}

// currentPreview 当前预览服务器实例
func (h *Handlers) currentPreview() *PreviewServer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.preview
}

// ==================== REST API (v1) ====================

// GetConfig 获取配置
// GET /api/v1/config
func (h *Handlers) GetConfig(ctx iris.Context) {
	cfg := h.currentPreview().GetConfig()

	h.mu.RLock()
	pathHistory := make([]string, len(h.pathHistory))
	copy(pathHistory, h.pathHistory)
	h.mu.RUnlock()

	result := iris.Map{
		"dataPath":    cfg.DataPath,
		"loaded":      cfg.Loaded,
		"layout":      cfg.Layout,
		"useCache":    cfg.UseCache,
		"pathHistory": pathHistory,
	}

	if cfg.Loaded {
		result["captures"] = cfg.Captures
		result["archives"] = cfg.Archives
	}

	ctx.JSON(result)
}

// SetConfig 设置配置
// POST /api/v1/config
func (h *Handlers) SetConfig(ctx iris.Context) {
	var req struct {
		DataPath string `json:"dataPath"`
		Layout   string `json:"layout"`
		UseCache *bool  `json:"useCache"`
	}

	if err := ctx.ReadJSON(&req); err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "无效的 JSON"})
		return
	}

	result := iris.Map{}

	// 更新载荷布局
	if req.Layout != "" {
		layout, err := config.ParseLayout(req.Layout)
		if err != nil {
			ctx.StatusCode(400)
			ctx.JSON(iris.Map{"error": "无效的载荷布局: " + req.Layout})
			return
		}
		h.currentPreview().SetLayout(layout)
		result["layout"] = layout.String()
	}

	// 开关解码缓存
	if req.UseCache != nil {
		h.currentPreview().SetUseCache(*req.UseCache)
		result["useCache"] = *req.UseCache
	}

	// 更新数据目录
	if req.DataPath != "" {
		h.mu.Lock()

		// 保存当前实例到缓存（如果已加载）
		if h.preview.IsLoaded() {
			currentPath := h.preview.GetBasePath()
			if currentPath != "" && currentPath != req.DataPath {
				h.previewCache[currentPath] = &PreviewCache{
					preview: h.preview,
					hash:    computePreviewHash(h.preview),
				}
			}
		}

		// 检查缓存中是否有目标路径的数据
		var newPreview *PreviewServer
		var fromCache bool

		if cached, ok := h.previewCache[req.DataPath]; ok {
			// 创建临时实例来获取当前文件系统的 hash
			tempPreview := NewPreviewServer(req.DataPath)
			if err := tempPreview.Load(); err == nil {
				currentHash := computePreviewHash(tempPreview)
				if currentHash == cached.hash {
					// Hash 一致，使用缓存
					newPreview = cached.preview
					fromCache = true
					// 从缓存中移除（因为即将成为当前实例）
					delete(h.previewCache, req.DataPath)
				} else {
					// Hash 不一致，需要重新加载
					newPreview = tempPreview
				}
			} else {
				h.mu.Unlock()
				ctx.StatusCode(400)
				ctx.JSON(iris.Map{
					"dataPath": req.DataPath,
					"loaded":   false,
					"error":    "无法加载指定路径的事件数据",
				})
				return
			}
		} else {
			// 缓存中没有，需要新加载
			newPreview = NewPreviewServer(req.DataPath)
			if err := newPreview.Load(); err != nil {
				h.mu.Unlock()
				ctx.StatusCode(400)
				ctx.JSON(iris.Map{
					"dataPath": req.DataPath,
					"loaded":   false,
					"error":    "无法加载指定路径的事件数据",
				})
				return
			}
		}

		// 替换当前实例（不关闭旧的，因为已经缓存了）
		h.preview = newPreview
		h.mu.Unlock()

		// 添加到路径历史
		h.addToPathHistory(req.DataPath)

		h.mu.RLock()
		pathHistory := make([]string, len(h.pathHistory))
		copy(pathHistory, h.pathHistory)
		h.mu.RUnlock()

		cfg := newPreview.GetConfig()
		result["dataPath"] = req.DataPath
		result["loaded"] = true
		result["captures"] = cfg.Captures
		result["archives"] = cfg.Archives
		result["pathHistory"] = pathHistory
		result["fromCache"] = fromCache
	} else {
		cfg := h.currentPreview().GetConfig()
		result["dataPath"] = cfg.DataPath
		result["loaded"] = cfg.Loaded
		if cfg.Loaded {
			result["captures"] = cfg.Captures
			result["archives"] = cfg.Archives
		}
	}

	ctx.JSON(result)
}

// GetCaptures 获取采集文件列表
// GET /api/v1/captures
func (h *Handlers) GetCaptures(ctx iris.Context) {
	captures := h.currentPreview().GetCaptures()
	if captures == nil {
		captures = []CaptureInfo{}
	}
	ctx.JSON(iris.Map{"captures": captures})
}

// ConvertCapture 解码采集文件为事件归档
// POST /api/v1/captures/convert
func (h *Handlers) ConvertCapture(ctx iris.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := ctx.ReadJSON(&req); err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "无效的 JSON"})
		return
	}
	if req.Name == "" {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "缺少 name 参数"})
		return
	}

	result, err := h.currentPreview().ConvertCapture(req.Name)
	if err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": err.Error()})
		return
	}

	ctx.JSON(iris.Map{
		"outPath": result.OutPath,
		"events":  result.Events,
	})
}

// GetArchives 获取归档列表
// GET /api/v1/archives
func (h *Handlers) GetArchives(ctx iris.Context) {
	archives := h.currentPreview().GetArchives()
	if archives == nil {
		archives = []ArchiveInfo{}
	}
	ctx.JSON(iris.Map{"archives": archives})
}

// GetArchiveSummary 获取归档概要
// GET /api/v1/archives/summary
func (h *Handlers) GetArchiveSummary(ctx iris.Context) {
	name := ctx.URLParam("name")
	if name == "" {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "缺少 name 参数"})
		return
	}

	head := 5
	if headStr := ctx.URLParam("head"); headStr != "" {
		head, _ = strconv.Atoi(headStr)
	}

	summary, err := h.currentPreview().ArchiveSummary(name, head)
	if err != nil {
		ctx.StatusCode(404)
		ctx.JSON(iris.Map{"error": err.Error()})
		return
	}

	ctx.JSON(summary)
}

// GetFramePNG 渲染单个时间窗口为 PNG
// GET /api/v1/archives/frame.png
func (h *Handlers) GetFramePNG(ctx iris.Context) {
	name := ctx.URLParam("name")
	if name == "" {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": "缺少 name 参数"})
		return
	}

	fps := 30.0
	if fpsStr := ctx.URLParam("fps"); fpsStr != "" {
		fps, _ = strconv.ParseFloat(fpsStr, 64)
	}

	delta := 0.0
	if deltaStr := ctx.URLParam("delta"); deltaStr != "" {
		delta, _ = strconv.ParseFloat(deltaStr, 64)
	}

	index := 0
	if indexStr := ctx.URLParam("index"); indexStr != "" {
		index, _ = strconv.Atoi(indexStr)
	}

	geom := config.DefaultGeometry()
	if widthStr := ctx.URLParam("width"); widthStr != "" {
		geom.Width, _ = strconv.Atoi(widthStr)
	}
	if heightStr := ctx.URLParam("height"); heightStr != "" {
		geom.Height, _ = strconv.Atoi(heightStr)
	}

	img, _, err := h.currentPreview().RenderWindow(name, fps, delta, index, geom)
	if err != nil {
		ctx.StatusCode(400)
		ctx.JSON(iris.Map{"error": err.Error()})
		return
	}

	ctx.ContentType("image/png")
	if err := png.Encode(ctx.ResponseWriter(), img); err != nil {
		ctx.StatusCode(500)
	}
}

// ==================== 路由注册 ====================

// RegisterRoutes 注册路由
func RegisterRoutes(app *iris.Application, h *Handlers) {
	v1 := app.Party("/api/v1")
	{
		v1.Get("/config", h.GetConfig)
		v1.Post("/config", h.SetConfig)
		v1.Get("/captures", h.GetCaptures)
		v1.Post("/captures/convert", h.ConvertCapture)
		v1.Get("/archives", h.GetArchives)
		v1.Get("/archives/summary", h.GetArchiveSummary)
		v1.Get("/archives/frame.png", h.GetFramePNG)
		v1.Get("/stream", h.HandleWebSocket) // WebSocket 事件帧流
	}
}
