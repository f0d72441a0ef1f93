package server

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"apx-evs/internal/config"
	"apx-evs/internal/models"
	"apx-evs/internal/npz"
)

// previewDir 数据目录: 一个归档 events_1.npz, 事件位于 4x4 范围内
func previewDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	s := &models.EventStream{
		T: []float64{0.001, 0.002},
		X: []uint16{0, 3},
		Y: []uint16{0, 3},
		P: []int8{1, -1},
	}
	if err := npz.Write(filepath.Join(dir, "events_1.npz"), s); err != nil {
		t.Fatal(err)
	}
	return dir
}

func Test_load_missing_directory(t *testing.T) {
	should := require.New(t)

	ps := NewPreviewServer(filepath.Join(t.TempDir(), "nope"))
	should.NotNil(ps.Load())
	should.False(ps.IsLoaded())
}

func Test_load_scans_archives(t *testing.T) {
	should := require.New(t)

	ps := NewPreviewServer(previewDir(t))
	should.Nil(ps.Load())
	should.True(ps.IsLoaded())

	archives := ps.GetArchives()
	should.Equal(1, len(archives))
	should.Equal("events_1.npz", archives[0].Name)
}

func Test_archive_stream_rejects_escaping_names(t *testing.T) {
	should := require.New(t)

	ps := NewPreviewServer(previewDir(t))
	should.Nil(ps.Load())

	_, err := ps.ArchiveStream("../events_1.npz")
	should.NotNil(err)
	_, err = ps.ArchiveStream("")
	should.NotNil(err)
}

func Test_render_window(t *testing.T) {
	should := require.New(t)

	ps := NewPreviewServer(previewDir(t))
	should.Nil(ps.Load())

	img, win, err := ps.RenderWindow("events_1.npz", 1, 0, 0, config.Geometry{Width: 4, Height: 4})
	should.Nil(err)
	should.Equal(0, win.Index)
	should.Equal(4, img.Bounds().Dx())
	should.Equal(4, img.Bounds().Dy())

	_, _, err = ps.RenderWindow("events_1.npz", 1, 0, 9, config.Geometry{Width: 4, Height: 4})
	should.NotNil(err)
}

func Test_render_window_rejects_invalid_geometry(t *testing.T) {
	should := require.New(t)

	ps := NewPreviewServer(previewDir(t))
	should.Nil(ps.Load())

	// 请求参数里的负值/零值/超限分辨率一律报错, 不触发渲染
	for _, geom := range []config.Geometry{
		{Width: -4, Height: 4},
		{Width: 4, Height: 0},
		{Width: 65536, Height: 4},
	} {
		_, _, err := ps.RenderWindow("events_1.npz", 1, 0, 0, geom)
		should.NotNil(err)
	}
}

func Test_set_data_path_rescans(t *testing.T) {
	should := require.New(t)

	ps := NewPreviewServer(previewDir(t))
	should.Nil(ps.Load())
	should.Equal(1, len(ps.GetArchives()))

	empty := t.TempDir()
	should.Nil(ps.SetDataPath(empty))
	should.Equal(empty, ps.GetBasePath())
	should.Equal(0, len(ps.GetArchives()))
}

func Test_set_data_path_concurrent_with_queries(t *testing.T) {
	should := require.New(t)

	dir := previewDir(t)
	other := previewDir(t)
	ps := NewPreviewServer(dir)
	should.Nil(ps.Load())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				ps.GetConfig()
				ps.GetArchives()
				ps.GetBasePath()
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = ps.SetDataPath(dir)
				_ = ps.SetDataPath(other)
			}
		}()
	}
	wg.Wait()

	should.True(ps.IsLoaded())
}

func Test_convert_capture_updates_archives(t *testing.T) {
	should := require.New(t)

	dir := t.TempDir()
	binPath := filepath.Join(dir, "apx_4_4_1.bin")
	block := append(make([]byte, config.BlockHeaderSize), 0x02, 0, 0, 0)
	should.Nil(os.WriteFile(binPath, block, 0644))
	info := "index,timestamp,offset,length\n0,1000,0,132\n"
	should.Nil(os.WriteFile(config.InfoPathFor(binPath), []byte(info), 0644))

	ps := NewPreviewServer(dir)
	ps.SetUseCache(false)
	should.Nil(ps.Load())
	should.Equal(1, len(ps.GetCaptures()))
	should.Equal(0, len(ps.GetArchives()))

	result, err := ps.ConvertCapture("apx_4_4_1.bin")
	should.Nil(err)
	should.Equal(1, result.Events)
	should.Equal(1, len(ps.GetArchives()))
}
