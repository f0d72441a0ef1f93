package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/websocket"

	"apx-evs/internal/config"
	"apx-evs/internal/evframe"
	"apx-evs/internal/evs"
	"apx-evs/internal/npz"
	"apx-evs/internal/playback"
	"apx-evs/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	command := os.Args[1]
	switch command {
	case "convert", "c":
		cmdConvert()
	case "frames", "f":
		cmdFrames()
	case "render", "r":
		cmdRender()
	case "merge", "m":
		cmdMerge()
	case "inspect", "i":
		cmdInspect()
	case "diff", "d":
		cmdDiff()
	case "serve", "s":
		cmdServe()
	case "help", "h", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		fmt.Fprintln(os.Stderr, "Available commands: convert, frames, render, merge, inspect, diff, serve, help")
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("evs - APX event camera capture toolkit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  evs <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  convert, c     Decode a capture file into an event archive")
	fmt.Println("  frames, f      Split an event archive into fixed-rate frames")
	fmt.Println("  render, r      Render one instant of an archive as a PNG")
	fmt.Println("  merge, m       Merge all archives in a directory")
	fmt.Println("  inspect, i     Show the content of an event archive")
	fmt.Println("  diff, d        Compare two grayscale PNG images")
	fmt.Println("  serve, s       Start the web preview server")
	fmt.Println("  help, h        Show this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  evs convert apx_816_612_1719392023.bin")
	fmt.Println("  evs frames -fps 30 events_1719392023.npz")
	fmt.Println("  evs render -frame 0 events_1719392023.npz")
	fmt.Println("  evs merge -sort ./data")
	fmt.Println("  evs serve -port 8080 -path ./data")
	fmt.Println()
	fmt.Println("Detailed help:")
	fmt.Println("  evs convert -h")
	fmt.Println("  evs frames -h")
}

// ==================== convert ====================

func cmdConvert() {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	outDir := fs.String("o", "", "Output directory (default: same as input file)")
	layoutStr := fs.String("layout", "header128", "Payload layout: header128|trailing")
	noCache := fs.Bool("nocache", false, "Disable the decode cache")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: evs convert [options] <capture.bin>")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: Input capture file not specified")
		fs.Usage()
		os.Exit(2)
	}

	if *debug {
		evs.SetDebugMode(true)
	}

	layout, err := config.ParseLayout(*layoutStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	_, err = evs.Convert(args[0], *outDir, layout, !*noCache)
	if errors.Is(err, evs.ErrNoEvents) {
		fmt.Println("未解码出任何事件, 输出文件未写入")
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ==================== frames ====================

func cmdFrames() {
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	fps := fs.Float64("fps", 0, "Target frame rate (required)")
	delta := fs.Float64("delta", 0, "Minimum window length in seconds")
	empty := fs.Bool("empty", true, "Keep windows with no events")
	savePNG := fs.Bool("png", false, "Also render a PNG preview per window")
	normalize := fs.Bool("normalize", true, "Normalize PNG intensity")
	mapStr := fs.String("map", "", "Polarity grey levels, e.g. 1:200,-1:100")
	width := fs.Int("width", config.DefaultWidth, "Sensor width in pixels")
	height := fs.Int("height", config.DefaultHeight, "Sensor height in pixels")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: evs frames -fps <rate> [options] <events.npz>")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: Input archive not specified")
		fs.Usage()
		os.Exit(2)
	}
	if *fps <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -fps is required")
		fs.Usage()
		os.Exit(2)
	}

	pm, err := parsePolarityMap(*mapStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	proc, err := evframe.LoadProcessor(args[0], config.Geometry{Width: *width, Height: *height})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	_, err = proc.MakeEventFrames(*fps, evframe.FrameOptions{
		Delta:       *delta,
		SaveEmpty:   *empty,
		SavePNG:     *savePNG,
		Normalize:   *normalize,
		PolarityMap: pm,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ==================== render ====================

func cmdRender() {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	frame := fs.Int("frame", 0, "Instant group index to render")
	out := fs.String("o", "", "Output PNG path (default: <input>.png)")
	mapStr := fs.String("map", "1:200,-1:100", "Polarity grey levels, empty to accumulate counts")
	normalize := fs.Bool("normalize", true, "Normalize intensity")
	width := fs.Int("width", config.DefaultWidth, "Sensor width in pixels")
	height := fs.Int("height", config.DefaultHeight, "Sensor height in pixels")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: evs render [options] <events.npz>")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: Input archive not specified")
		fs.Usage()
		os.Exit(2)
	}

	pm, err := parsePolarityMap(*mapStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	outPath := *out
	if outPath == "" {
		outPath = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".png"
	}

	err = evframe.RenderArchive(args[0], outPath, config.Geometry{Width: *width, Height: *height}, *frame, evframe.RenderOptions{
		PolarityMap: pm,
		Normalize:   *normalize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ==================== merge ====================

func cmdMerge() {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	out := fs.String("o", "", "Output archive path (default: <dir>/all.npz)")
	sortFlag := fs.Bool("sort", false, "Sort merged events by timestamp")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: evs merge [options] <directory>")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: Input directory not specified")
		fs.Usage()
		os.Exit(2)
	}

	outPath := *out
	if outPath == "" {
		outPath = filepath.Join(args[0], config.MergedName)
	}

	if _, err := evframe.MergeDir(args[0], outPath, *sortFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ==================== inspect ====================

func cmdInspect() {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	n := fs.Int("n", 5, "Number of events to preview")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: evs inspect [options] <events.npz>")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: Input archive not specified")
		fs.Usage()
		os.Exit(2)
	}

	entries, err := npz.Entries(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stream, err := npz.Read(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("文件: %s\n", args[0])
	fmt.Printf("数组: %s\n", strings.Join(entries, ", "))
	fmt.Printf("事件数: %d\n", stream.Len())
	if stream.Len() == 0 {
		return
	}

	t0, tn, _ := stream.TimeRange()
	fmt.Printf("时间范围: %.6fs ~ %.6fs (时长 %.6fs)\n", t0, tn, tn-t0)
	fmt.Printf("不同时间戳: %d\n", stream.DistinctTimes())

	minX, maxX := stream.X[0], stream.X[0]
	minY, maxY := stream.Y[0], stream.Y[0]
	for i := range stream.X {
		if stream.X[i] < minX {
			minX = stream.X[i]
		}
		if stream.X[i] > maxX {
			maxX = stream.X[i]
		}
		if stream.Y[i] < minY {
			minY = stream.Y[i]
		}
		if stream.Y[i] > maxY {
			maxY = stream.Y[i]
		}
	}
	fmt.Printf("x 范围: %d ~ %d\n", minX, maxX)
	fmt.Printf("y 范围: %d ~ %d\n", minY, maxY)

	if *n > stream.Len() {
		*n = stream.Len()
	}
	fmt.Printf("前 %d 个事件:\n", *n)
	for i := 0; i < *n; i++ {
		fmt.Printf("  %.6fs (x=%d, y=%d, p=%d)\n",
			stream.T[i], stream.X[i], stream.Y[i], stream.P[i])
	}
}

// ==================== diff ====================

func cmdDiff() {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	out := fs.String("o", "diff.png", "Difference image path")
	save := fs.Bool("save", false, "Save the difference image")
	dist := fs.Bool("dist", false, "Print the pixel value distribution of both images")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: evs diff [options] <a.png> <b.png>")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: Two PNG files required")
		fs.Usage()
		os.Exit(2)
	}

	if *dist {
		for _, path := range args[:2] {
			img, err := evframe.ReadGrayPNG(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printDistribution(filepath.Base(path), img)
		}
		fmt.Println()
	}

	stats, err := evframe.ComparePNGs(args[0], args[1], *out, *save)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *save {
		fmt.Printf("[Diff] ✓ 已保存差值图到 %s\n", *out)
	}
	if stats.Identical {
		fmt.Println("所有像素完全一致")
		return
	}
	fmt.Printf("差异像素: %d\n", stats.NonzeroPixels)
	fmt.Printf("平均差值: %.2f\n", stats.MeanDiff)
	fmt.Printf("最大差值: %d\n", stats.MaxDiff)
	fmt.Printf("最小非零差值: %d\n", stats.MinDiff)
}

// printDistribution 打印像素值组成
func printDistribution(name string, img *image.Gray) {
	dist := evframe.PixelDistribution(img)
	fmt.Printf("%s 像素值组成分析 (共 %d 像素):\n", name, len(img.Pix))
	for _, vc := range dist {
		fmt.Printf("  值 %3d: %8d 像素, 占比 %6.2f%%\n", vc.Value, vc.Count, vc.Ratio)
	}
}

// ==================== serve ====================

func cmdServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", config.Port, "Server port")
	dataPath := fs.String("path", "", "Data directory (optional, can be set via the API)")
	layoutStr := fs.String("layout", "header128", "Payload layout: header128|trailing")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: evs serve [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	if *debug {
		evs.SetDebugMode(true)
	}

	layout, err := config.ParseLayout(*layoutStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// 查找可用端口
	actualPort := findAvailablePort(*port)

	fmt.Println("============================================================")
	fmt.Println("APX 事件相机预览服务")
	fmt.Println("============================================================")
	if *dataPath != "" {
		fmt.Printf("数据目录: %s\n", *dataPath)
	}
	fmt.Printf("监听地址: http://localhost:%d\n", actualPort)
	fmt.Println("============================================================")

	// 创建预览服务器
	preview := server.NewPreviewServer(*dataPath)
	preview.SetLayout(layout)
	defer preview.Close()

	if *dataPath != "" {
		if err := preview.Load(); err != nil {
			fmt.Printf("警告: %v\n", err)
		}
	}

	// 创建 Iris 应用
	app := iris.New()
	app.Logger().SetLevel("warn")

	// CORS
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		if ctx.Method() == "OPTIONS" {
			ctx.StatusCode(204)
			return
		}
		ctx.Next()
	})

	// 注册 API 路由
	handlers := server.NewHandlers(preview)
	server.RegisterRoutes(app, handlers)

	// neffos 回放通道
	pb := playback.NewWebSocketHandler(preview)
	wsServer := websocket.New(websocket.DefaultGorillaUpgrader, pb.RegisterEvents())
	app.Get("/api/v1/playback", websocket.Handler(wsServer))

	// 优雅关闭
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		fmt.Println("\n正在关闭...")
		app.Shutdown(nil)
	}()

	// 启动服务器
	fmt.Printf("\n服务器已启动: http://localhost:%d\n", actualPort)
	if err := app.Listen(fmt.Sprintf(":%d", actualPort)); err != nil {
		fmt.Printf("服务器错误: %v\n", err)
	}
}

// findAvailablePort 查找可用端口，如果指定端口被占用则递增
func findAvailablePort(startPort int) int {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	return startPort // 回退到原始端口
}

// parsePolarityMap 解析 "极性:灰度" 列表
func parsePolarityMap(s string) (map[int8]float32, error) {
	if s == "" {
		return nil, nil
	}

	pm := make(map[int8]float32)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("无效的极性映射: %q", part)
		}
		p, err := strconv.ParseInt(kv[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("无效的极性值: %q", kv[0])
		}
		grey, err := strconv.ParseFloat(kv[1], 32)
		if err != nil {
			return nil, fmt.Errorf("无效的灰度值: %q", kv[1])
		}
		pm[int8(p)] = float32(grey)
	}
	return pm, nil
}
