package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"

	"apx-evs/internal/config"
	"apx-evs/internal/evframe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage WebSocket 消息
type WSMessage struct {
	Action  string  `json:"action"`
	Archive string  `json:"archive"`
	FPS     float64 `json:"fps"`
	Delta   float64 `json:"delta"`
	Speed   float64 `json:"speed"`
	Index   int     `json:"index"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
}

// StreamSession 流会话
type StreamSession struct {
	ws       *websocket.Conn
	preview  *PreviewServer
	stopChan chan struct{}
	mu       sync.Mutex
	running  bool
}

// HandleWebSocket WebSocket 处理器
func (h *Handlers) HandleWebSocket(ctx iris.Context) {
	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}
	defer ws.Close()

	session := &StreamSession{
		ws:       ws,
		preview:  h.currentPreview(),
		stopChan: make(chan struct{}),
	}

	sessionID := fmt.Sprintf("%p", ws)
	fmt.Printf("[WS] 新连接: %s\n", sessionID)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WS] Error: %v\n", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			session.sendJSON(iris.Map{"error": "无效的 JSON"})
			continue
		}

		switch msg.Action {
		case "play":
			session.stop()
			applyStreamDefaults(&msg)
			go session.streamFrames(msg.Archive, msg.FPS, msg.Delta, msg.Speed, 0, msgGeometry(msg))
			fmt.Printf("[WS] 开始播放: archive=%s, fps=%v, speed=%.1f\n",
				msg.Archive, msg.FPS, msg.Speed)

		case "pause":
			session.stop()
			fmt.Printf("[WS] 暂停\n")

		case "seek":
			session.stop()
			applyStreamDefaults(&msg)
			go session.streamFrames(msg.Archive, msg.FPS, msg.Delta, msg.Speed, msg.Index, msgGeometry(msg))
			fmt.Printf("[WS] Seek: archive=%s, index=%d\n", msg.Archive, msg.Index)

		case "speed":
			fmt.Printf("[WS] 速度变更: %.1fx\n", msg.Speed)
		}
	}

	session.stop()
	fmt.Printf("[WS] 断开连接: %s\n", sessionID)
}

// applyStreamDefaults 补全播放参数
func applyStreamDefaults(msg *WSMessage) {
	if msg.FPS <= 0 {
		msg.FPS = 30
	}
	if msg.Speed <= 0 {
		msg.Speed = 1.0
	}
}

// msgGeometry 消息中的分辨率, 缺省时使用默认值
func msgGeometry(msg WSMessage) config.Geometry {
	geom := config.DefaultGeometry()
	if msg.Width > 0 {
		geom.Width = msg.Width
	}
	if msg.Height > 0 {
		geom.Height = msg.Height
	}
	return geom
}

func (s *StreamSession) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopChan)
		s.stopChan = make(chan struct{})
		s.running = false
	}
}

func (s *StreamSession) sendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *StreamSession) sendBytes(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteMessage(websocket.BinaryMessage, data)
}

// streamFrames 流式发送事件帧
func (s *StreamSession) streamFrames(archive string, fps, delta, speed float64, startIndex int, geom config.Geometry) {
	s.mu.Lock()
	s.running = true
	stopChan := s.stopChan
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	stream, err := s.preview.ArchiveStream(archive)
	if err != nil {
		s.sendJSON(iris.Map{"error": err.Error()})
		return
	}

	windows, err := evframe.Windows(stream, fps, delta)
	if err != nil {
		s.sendJSON(iris.Map{"error": err.Error()})
		return
	}

	if startIndex < 0 {
		startIndex = 0
	}
	if startIndex >= len(windows) {
		s.sendJSON(iris.Map{"error": "窗口序号超出范围"})
		return
	}

	t0, tn, _ := stream.TimeRange()

	// 发送 stream_start
	s.sendJSON(iris.Map{
		"type":       "stream_start",
		"archive":    archive,
		"fps":        fps,
		"frameCount": len(windows),
		"startTime":  t0,
		"endTime":    tn,
		"width":      geom.Width,
		"height":     geom.Height,
	})

	frameInterval := time.Duration(float64(time.Second) / fps / speed)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	opts := evframe.RenderOptions{
		PolarityMap: defaultPolarityMap(),
		Normalize:   true,
	}

	frameCount := 0
	lastLogTime := time.Now()

	for i := startIndex; i < len(windows); i++ {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
		}

		win := windows[i]
		part := stream.Select(win.Start, win.End, win.Closed)
		img := evframe.RenderFrame(part, geom, opts)

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			continue
		}
		s.sendFrame(i, win.Start, buf.Bytes())

		frameCount++

		// 日志
		if time.Since(lastLogTime) >= time.Second {
			actual := float64(frameCount) / time.Since(lastLogTime).Seconds()
			fmt.Printf("[Stream] FPS: %.1f, 帧: %d/%d\n", actual, i, len(windows))
			frameCount = 0
			lastLogTime = time.Now()
		}
	}

	s.sendJSON(iris.Map{"type": "stream_end"})
}

// sendFrame 发送单帧 PNG
// 格式: Magic(4) + Index(4) + TimestampUs(8) + DataLen(4) + Data
func (s *StreamSession) sendFrame(index int, start float64, data []byte) {
	header := make([]byte, 20)
	copy(header[0:4], "EVSF")
	binary.BigEndian.PutUint32(header[4:8], uint32(index))
	binary.BigEndian.PutUint64(header[8:16], uint64(int64(start*1e6)))
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	s.sendBytes(append(header, data...))
}
