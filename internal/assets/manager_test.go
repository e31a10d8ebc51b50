package assets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Faultbox/objwatch/internal/config"
	"github.com/Faultbox/objwatch/pkg/formats"
)

const cubeOBJ = `mtllib cube.mtl
o cube
v 0 0 0
v 1 0 0
v 1 1 0
vt 0 0
vt 1 0
vt 1 1
vn 0 0 1
usemtl Wood
s off
f 1/1/1 2/2/1 3/3/1
`

const cubeMTL = `newmtl Wood
Kd 0.8 0.6 0.4
map_Kd textures/wood.jpeg
`

const quadOBJ = `o cube
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
f 1 2 3 4
`

// jpegStub has a JPEG signature, enough for type sniffing.
var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// newTestRoot builds:
//
//	root/models/cube/{cube.obj, cube.mtl, wood.jpeg, notes.txt}
//	root/models/cube/lod/cube_lod.obj   (below an asset, not discovered)
//	root/ships/ship/{Ship.OBJ, ship.mtl}
//	root/empty/
func newTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	cube := filepath.Join(root, "models", "cube")
	writeFile(t, filepath.Join(cube, "cube.obj"), []byte(cubeOBJ))
	writeFile(t, filepath.Join(cube, "cube.mtl"), []byte(cubeMTL))
	writeFile(t, filepath.Join(cube, "wood.jpeg"), jpegStub)
	writeFile(t, filepath.Join(cube, "notes.txt"), []byte("not an asset file"))
	writeFile(t, filepath.Join(cube, "lod", "cube_lod.obj"), []byte(cubeOBJ))

	ship := filepath.Join(root, "ships", "ship")
	writeFile(t, filepath.Join(ship, "Ship.OBJ"), []byte(cubeOBJ))
	writeFile(t, filepath.Join(ship, "ship.mtl"), []byte(cubeMTL))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	return root
}

func newTestManager(t *testing.T, root string, window time.Duration) *Manager {
	t.Helper()
	cfg := config.Default().Assets
	cfg.Root = root
	cfg.ThrottleWindow = window

	m, err := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNewManager_Discovery(t *testing.T) {
	root := newTestRoot(t)
	m := newTestManager(t, root, time.Second)

	assert.Equal(t, []string{"cube", "ship"}, m.Names())

	dir, ok := m.Path("cube")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "models", "cube"), dir)

	_, ok = m.Path("lod")
	assert.False(t, ok, "directories below an asset are not scanned")
}

func TestNewManager_MissingRoot(t *testing.T) {
	cfg := config.Default().Assets
	cfg.Root = filepath.Join(t.TempDir(), "missing")

	_, err := NewManager(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	m := newTestManager(t, newTestRoot(t), time.Second)

	asset, err := m.Fetch(context.Background(), "cube")
	require.NoError(t, err)

	assert.Equal(t, "cube", asset.Name)
	assert.Equal(t, "cube.obj", asset.ObjFile)
	assert.Equal(t, "cube.mtl", asset.MtlFile)
	assert.Equal(t, []string{"cube.mtl"}, asset.MaterialLibs)
	assert.Zero(t, asset.WarningCount)

	require.Contains(t, asset.Objects, "cube")
	cube := asset.Objects["cube"]
	assert.Equal(t, []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}, cube.Positions)
	assert.Equal(t, []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}}, cube.TexCoords)
	assert.Len(t, cube.Normals, 3)

	require.Contains(t, asset.Materials, "Wood")
	assert.Equal(t, "wood.jpeg", asset.Materials["Wood"].DiffuseMap)

	assert.Equal(t, map[string][]byte{"wood.jpeg": jpegStub}, asset.ImageTextures)

	mat, ok := asset.PrimaryMaterial("cube")
	require.True(t, ok)
	assert.Equal(t, "Wood", mat.Name)

	img, ok := asset.PrimaryImage("cube")
	require.True(t, ok)
	assert.Equal(t, jpegStub, img)
}

func TestFetch_CaseInsensitiveExtensions(t *testing.T) {
	m := newTestManager(t, newTestRoot(t), time.Second)

	asset, err := m.Fetch(context.Background(), "ship")
	require.NoError(t, err)
	assert.Equal(t, "Ship.OBJ", asset.ObjFile)
	assert.Empty(t, asset.ImageTextures)

	_, ok := asset.PrimaryImage("cube")
	assert.False(t, ok, "texture file is not in the ship directory")
}

func TestFetch_Errors(t *testing.T) {
	root := newTestRoot(t)
	m := newTestManager(t, root, time.Second)
	ctx := context.Background()

	_, err := m.Fetch(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	shipDir, _ := m.Path("ship")
	require.NoError(t, os.Remove(filepath.Join(shipDir, "ship.mtl")))
	_, err = m.Fetch(ctx, "ship")
	assert.ErrorIs(t, err, ErrMissingMTL)

	cubeDir, _ := m.Path("cube")
	writeFile(t, filepath.Join(cubeDir, "cube.obj"), []byte(quadOBJ))
	_, err = m.Fetch(ctx, "cube")
	assert.ErrorIs(t, err, formats.ErrNonTriangulatedFace)
	assert.Contains(t, err.Error(), "cube")

	require.NoError(t, os.Remove(filepath.Join(cubeDir, "cube.obj")))
	_, err = m.Fetch(ctx, "cube")
	assert.ErrorIs(t, err, ErrMissingOBJ)
}

func TestFetch_Concurrent(t *testing.T) {
	for _, dedupe := range []bool{true, false} {
		cfg := config.Default().Assets
		cfg.Root = newTestRoot(t)
		cfg.DedupeFetches = dedupe
		m, err := NewManager(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				asset, err := m.Fetch(context.Background(), "cube")
				if err == nil && len(asset.Objects) != 1 {
					err = assert.AnError
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err, "dedupe=%v", dedupe)
		}
		m.Close()
	}
}

func waitUpdate(t *testing.T, sub *Subscription, timeout time.Duration) Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(timeout):
		t.Fatalf("no update for %s within %v", sub.Asset(), timeout)
	}
	return Update{}
}

func assertNoUpdate(t *testing.T, sub *Subscription, wait time.Duration) {
	t.Helper()
	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected update: asset=%v err=%v", u.Asset != nil, u.Err)
	case <-time.After(wait):
	}
}

func TestSubscribe_ThrottledRefresh(t *testing.T) {
	const window = 300 * time.Millisecond
	m := newTestManager(t, newTestRoot(t), window)

	sub, err := m.Subscribe("cube")
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 1, m.Subscribers("cube"))

	dir, _ := m.Path("cube")
	objPath := filepath.Join(dir, "cube.obj")

	start := time.Now()
	writeFile(t, objPath, []byte(cubeOBJ+"v 5 5 5\n"))
	time.Sleep(window / 4)
	writeFile(t, objPath, []byte(cubeOBJ+"v 6 6 6\n"))
	time.Sleep(window / 5)
	final := `o moved
v 0 0 0
v 2 0 0
v 2 2 0
f 1 2 3
`
	writeFile(t, objPath, []byte(final))

	u := waitUpdate(t, sub, 5*window)
	assert.GreaterOrEqual(t, time.Since(start), window)
	require.NoError(t, u.Err)
	require.Contains(t, u.Asset.Objects, "moved", "update reflects the last write")
	assert.Equal(t, mgl32.Vec3{2, 2, 0}, u.Asset.Objects["moved"].Positions[2])

	assertNoUpdate(t, sub, 2*window)
}

func TestSubscribe_ErrorKeepsSubscription(t *testing.T) {
	const window = 100 * time.Millisecond
	m := newTestManager(t, newTestRoot(t), window)

	sub, err := m.Subscribe("cube")
	require.NoError(t, err)
	defer sub.Close()

	dir, _ := m.Path("cube")
	objPath := filepath.Join(dir, "cube.obj")

	writeFile(t, objPath, []byte(quadOBJ))
	u := waitUpdate(t, sub, 20*window)
	assert.ErrorIs(t, u.Err, formats.ErrNonTriangulatedFace)
	assert.Nil(t, u.Asset)

	// Let trailing events from the first write settle.
	time.Sleep(3 * window)
	for len(sub.Updates()) > 0 {
		<-sub.Updates()
	}

	writeFile(t, objPath, []byte(cubeOBJ))
	u = waitUpdate(t, sub, 20*window)
	require.NoError(t, u.Err)
	assert.Contains(t, u.Asset.Objects, "cube")
}

func TestSubscribe_RefreshIgnoresInFlightFetch(t *testing.T) {
	const window = 100 * time.Millisecond
	m := newTestManager(t, newTestRoot(t), window)
	require.True(t, m.dedupe)

	// Hold the first load after it has read the files.
	started := make(chan struct{})
	release := make(chan struct{})
	var first, unblock sync.Once
	m.read = func(string) {
		held := false
		first.Do(func() {
			held = true
			close(started)
		})
		if held {
			<-release
		}
	}

	sub, err := m.Subscribe("cube")
	require.NoError(t, err)
	defer sub.Close()

	var (
		stale    *Asset
		fetchErr error
	)
	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		stale, fetchErr = m.Fetch(context.Background(), "cube")
	}()
	t.Cleanup(func() {
		unblock.Do(func() { close(release) })
		<-fetched
	})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not start")
	}

	dir, _ := m.Path("cube")
	writeFile(t, filepath.Join(dir, "cube.obj"), []byte(`o fresh
v 0 0 0
v 3 0 0
v 3 3 0
f 1 2 3
`))

	u := waitUpdate(t, sub, 20*window)
	require.NoError(t, u.Err)
	assert.Contains(t, u.Asset.Objects, "fresh", "refresh reads the files after the change")

	unblock.Do(func() { close(release) })
	<-fetched
	require.NoError(t, fetchErr)
	assert.Contains(t, stale.Objects, "cube")
}

func TestSubscribe_Unknown(t *testing.T) {
	m := newTestManager(t, newTestRoot(t), time.Second)

	_, err := m.Subscribe("nope")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestSubscription_CloseUnsubscribes(t *testing.T) {
	m := newTestManager(t, newTestRoot(t), time.Second)

	sub, err := m.Subscribe("ship")
	require.NoError(t, err)
	require.Equal(t, 1, m.Subscribers("ship"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, m.Subscribers("ship"))

	_, ok := <-sub.Updates()
	assert.False(t, ok, "updates channel should be closed")
}

func TestManager_CloseEndsSubscriptions(t *testing.T) {
	cfg := config.Default().Assets
	cfg.Root = newTestRoot(t)
	m, err := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	sub, err := m.Subscribe("cube")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, ok := <-sub.Updates()
	assert.False(t, ok)

	_, err = m.Subscribe("cube")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscription_DropsOldest(t *testing.T) {
	sub := newSubscription("cube", 2, zaptest.NewLogger(t), nil)

	for i := 1; i <= 4; i++ {
		sub.deliver(Update{Asset: &Asset{Name: string(rune('0' + i))}})
	}

	assert.Equal(t, 2, sub.Dropped())
	assert.Equal(t, "3", (<-sub.Updates()).Asset.Name)
	assert.Equal(t, "4", (<-sub.Updates()).Asset.Name)

	sub.Close()
	sub.deliver(Update{}) // No panic after close
}

func TestPartitionFiles(t *testing.T) {
	files := []string{"a.mtl", "b.MTL", "model.obj", "other.obj", "t1.jpeg", "t2.JPEG", "t3.png", "readme"}

	sel := partitionFiles(files, []string{".jpeg"})
	assert.Equal(t, "model.obj", sel.obj)
	assert.Equal(t, "a.mtl", sel.mtl)
	assert.Equal(t, []string{"t1.jpeg", "t2.JPEG"}, sel.images)

	sel = partitionFiles(files, []string{".jpeg", ".png"})
	assert.Equal(t, []string{"t1.jpeg", "t2.JPEG", "t3.png"}, sel.images)
	assert.Equal(t, []string{"model.obj", "a.mtl", "t1.jpeg", "t2.JPEG", "t3.png"}, sel.names())
}
