// Package playback 基于 neffos 的事件帧回放通道。
// 与 /api/v1/stream 的原生 WebSocket 不同, 本通道按命名事件交互,
// 客户端先 open 归档再控制播放进度。
package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/png"
	"sync"
	"time"

	"github.com/kataras/iris/v12/websocket"
	"github.com/kataras/neffos"

	"apx-evs/internal/config"
	"apx-evs/internal/evframe"
	"apx-evs/internal/models"
	"apx-evs/internal/server"
)

// StreamSession WebSocket 流会话
type StreamSession struct {
	archive    string
	fps        float64
	currentIdx int
	playing    bool
	speed      float64
	windows    []evframe.Window
	stream     *models.EventStream
	geom       config.Geometry
	mu         sync.Mutex
}

// WebSocketHandler WebSocket 处理器
type WebSocketHandler struct {
	Preview  *server.PreviewServer
	sessions map[*neffos.Conn]*StreamSession
	mu       sync.RWMutex
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(preview *server.PreviewServer) *WebSocketHandler {
	return &WebSocketHandler{
		Preview:  preview,
		sessions: make(map[*neffos.Conn]*StreamSession),
	}
}

// OnConnect 连接建立
func (ws *WebSocketHandler) OnConnect(c *neffos.NSConn, msg neffos.Message) error {
	fmt.Printf("[Playback] 客户端连接: %s\n", c.Conn.ID())
	return nil
}

// OnDisconnect 连接断开
func (ws *WebSocketHandler) OnDisconnect(c *neffos.NSConn, msg neffos.Message) error {
	fmt.Printf("[Playback] 客户端断开: %s\n", c.Conn.ID())
	ws.mu.Lock()
	delete(ws.sessions, c.Conn)
	ws.mu.Unlock()
	return nil
}

// OnOpen 打开归档
func (ws *WebSocketHandler) OnOpen(c *neffos.NSConn, msg neffos.Message) error {
	var req struct {
		Archive string  `json:"archive"`
		FPS     float64 `json:"fps"`
		Delta   float64 `json:"delta"`
		Width   int     `json:"width"`
		Height  int     `json:"height"`
	}
	if err := msg.Unmarshal(&req); err != nil {
		return err
	}
	if req.FPS <= 0 {
		req.FPS = 30
	}

	stream, err := ws.Preview.ArchiveStream(req.Archive)
	if err != nil {
		c.Emit("error", []byte(fmt.Sprintf(`{"error": %q}`, err.Error())))
		return nil
	}

	windows, err := evframe.Windows(stream, req.FPS, req.Delta)
	if err != nil {
		c.Emit("error", []byte(fmt.Sprintf(`{"error": %q}`, err.Error())))
		return nil
	}

	geom := config.DefaultGeometry()
	if req.Width > 0 {
		geom.Width = req.Width
	}
	if req.Height > 0 {
		geom.Height = req.Height
	}

	session := &StreamSession{
		archive:    req.Archive,
		fps:        req.FPS,
		currentIdx: 0,
		playing:    false,
		speed:      1.0,
		windows:    windows,
		stream:     stream,
		geom:       geom,
	}

	ws.mu.Lock()
	ws.sessions[c.Conn] = session
	ws.mu.Unlock()

	c.Emit("opened", []byte(fmt.Sprintf(`{"frame_count": %d, "fps": %g}`,
		len(windows), req.FPS)))

	return nil
}

// session 取连接对应的会话, 未 open 时为 nil
func (ws *WebSocketHandler) session(c *neffos.NSConn) *StreamSession {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.sessions[c.Conn]
}

// OnPlay 开始播放
func (ws *WebSocketHandler) OnPlay(c *neffos.NSConn, msg neffos.Message) error {
	session := ws.session(c)
	if session == nil {
		return nil
	}

	session.mu.Lock()
	session.playing = true
	session.mu.Unlock()

	go ws.streamFrames(c, session)
	return nil
}

// OnPause 暂停播放
func (ws *WebSocketHandler) OnPause(c *neffos.NSConn, msg neffos.Message) error {
	if session := ws.session(c); session != nil {
		session.mu.Lock()
		session.playing = false
		session.mu.Unlock()
	}
	return nil
}

// OnSeek 按相对位置跳转
func (ws *WebSocketHandler) OnSeek(c *neffos.NSConn, msg neffos.Message) error {
	var req struct {
		Position float64 `json:"position"`
	}
	if err := msg.Unmarshal(&req); err != nil {
		return err
	}

	if session := ws.session(c); session != nil {
		session.mu.Lock()
		idx := int(float64(len(session.windows)) * req.Position)
		if idx >= len(session.windows) {
			idx = len(session.windows) - 1
		}
		if idx < 0 {
			idx = 0
		}
		session.currentIdx = idx
		session.mu.Unlock()
	}
	return nil
}

// OnSpeed 设置播放速度
func (ws *WebSocketHandler) OnSpeed(c *neffos.NSConn, msg neffos.Message) error {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := msg.Unmarshal(&req); err != nil {
		return err
	}

	if session := ws.session(c); session != nil {
		session.mu.Lock()
		session.speed = req.Speed
		session.mu.Unlock()
	}
	return nil
}

// streamFrames 流式发送帧
func (ws *WebSocketHandler) streamFrames(c *neffos.NSConn, session *StreamSession) {
	opts := evframe.RenderOptions{
		PolarityMap: map[int8]float32{
			models.PolarityOn:  200,
			models.PolarityOff: 100,
		},
		Normalize: true,
	}

	for {
		session.mu.Lock()
		if !session.playing {
			session.mu.Unlock()
			break
		}

		if session.currentIdx >= len(session.windows) {
			session.playing = false
			session.mu.Unlock()
			c.Emit("ended", nil)
			break
		}

		win := session.windows[session.currentIdx]
		speed := session.speed
		stream := session.stream
		geom := session.geom

		intervalUs := int64(1e6 / session.fps)
		if session.currentIdx+1 < len(session.windows) {
			next := session.windows[session.currentIdx+1]
			intervalUs = int64((next.Start - win.Start) * 1e6)
		}

		session.currentIdx++
		idx := session.currentIdx
		session.mu.Unlock()

		part := stream.Select(win.Start, win.End, win.Closed)
		img := evframe.RenderFrame(part, geom, opts)

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			continue
		}
		data := buf.Bytes()

		frame := make([]byte, 12+len(data))
		binary.LittleEndian.PutUint32(frame[0:4], uint32(win.Index))
		binary.LittleEndian.PutUint64(frame[4:12], uint64(int64(win.Start*1e6)))
		copy(frame[12:], data)

		c.EmitBinary("frame", frame)

		progress := float64(idx) / float64(len(session.windows))
		c.Emit("progress", []byte(fmt.Sprintf(`{"position": %.4f, "index": %d}`,
			progress, idx)))

		sleepDuration := time.Duration(float64(intervalUs)/speed) * time.Microsecond
		if sleepDuration > 0 && sleepDuration < time.Second {
			time.Sleep(sleepDuration)
		}
	}
}

// RegisterEvents 注册 WebSocket 事件
func (ws *WebSocketHandler) RegisterEvents() websocket.Namespaces {
	return websocket.Namespaces{
		"playback": websocket.Events{
			websocket.OnNamespaceConnected:  ws.OnConnect,
			websocket.OnNamespaceDisconnect: ws.OnDisconnect,
			"open":  ws.OnOpen,
			"play":  ws.OnPlay,
			"pause": ws.OnPause,
			"seek":  ws.OnSeek,
			"speed": ws.OnSpeed,
		},
	}
}
