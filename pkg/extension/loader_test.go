package extension

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tcpcmd/pkg/command"
	"github.com/marmos91/tcpcmd/pkg/wire"
)

// recorder collects entry point calls across fake modules.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeLib struct {
	name    string
	symbols map[string]any
	closed  bool
}

func (f *fakeLib) Lookup(name string) (any, error) {
	s, ok := f.symbols[name]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", name)
	}
	return s, nil
}

func (f *fakeLib) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	libs map[string]*fakeLib
}

func (o *fakeOpener) Open(path string) (Library, error) {
	lib, ok := o.libs[filepath.Base(path)]
	if !ok {
		return nil, errors.New("not a module")
	}
	return lib, nil
}

type moduleOpts struct {
	loadErr, unloadErr, initErr, finitErr error
}

// fullModule returns a library exporting all four entry points.
func fullModule(name string, rec *recorder, o moduleOpts) *fakeLib {
	load := func(h command.Host, r command.Registrar, slot int) error {
		rec.add("load %s slot=%d", name, slot)
		return o.loadErr
	}
	unload := func(h command.Host) error {
		rec.add("unload %s", name)
		return o.unloadErr
	}
	initFn := func(c *command.Context) error {
		rec.add("init %s", name)
		return o.initErr
	}
	finit := func(c *command.Context) error {
		rec.add("finit %s", name)
		return o.finitErr
	}
	return &fakeLib{name: name, symbols: map[string]any{
		command.SymbolLoad:         load,
		command.SymbolUnload:       unload,
		command.SymbolSessionInit:  initFn,
		command.SymbolSessionFinit: finit,
	}}
}

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		p := filepath.Join(root, r)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

type testHost struct{ dir string }

func (h testHost) PID() int             { return os.Getpid() }
func (h testHost) Workers() int         { return 1 }
func (h testHost) ExtensionDir() string { return h.dir }
func (h testHost) Logger() *slog.Logger { return slog.Default() }

type nopRegistrar struct{}

func (nopRegistrar) Register(uint32, uint32, command.Handler) error { return nil }

func TestScanOrderAndSlots(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.so", "b.so", "sub/c.so", "z.so")

	rec := &recorder{}
	op := &fakeOpener{libs: map[string]*fakeLib{
		"a.so": fullModule("a", rec, moduleOpts{}),
		"b.so": fullModule("b", rec, moduleOpts{}),
		"c.so": fullModule("c", rec, moduleOpts{}),
		"z.so": fullModule("z", rec, moduleOpts{}),
	}}

	l := NewLoader(op)
	n, err := l.LoadAll(root, testHost{root}, nopRegistrar{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, []string{
		"load z slot=0",
		"load c slot=1",
		"load b slot=2",
		"load a slot=3",
	}, rec.get())

	mods := l.Modules()
	require.Len(t, mods, 4)
	for i, m := range mods {
		assert.Equal(t, i, m.Slot)
	}
	assert.Equal(t, filepath.Join(root, "sub", "c.so"), mods[1].Path)
}

func TestScanSkipsBadCandidates(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "good.so", "noload.so", "garbage.txt", "wrongtype.so")

	rec := &recorder{}
	noLoad := fullModule("noload", rec, moduleOpts{})
	delete(noLoad.symbols, command.SymbolLoad)
	wrongType := fullModule("wrongtype", rec, moduleOpts{})
	wrongType.symbols[command.SymbolUnload] = 42

	op := &fakeOpener{libs: map[string]*fakeLib{
		"good.so":      fullModule("good", rec, moduleOpts{}),
		"noload.so":    noLoad,
		"wrongtype.so": wrongType,
	}}

	l := NewLoader(op)
	n, err := l.Scan(root)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, noLoad.closed)
	assert.True(t, wrongType.closed)
	assert.Equal(t, 0, l.Modules()[0].Slot)
}

func TestScanMissingRoot(t *testing.T) {
	l := NewLoader(&fakeOpener{})
	n, err := l.Scan(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Zero(t, n)
	assert.Empty(t, l.Modules())
}

func TestLoadAllMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cmdso")
	_, err := NewLoader(&fakeOpener{}).LoadAll(root, testHost{root}, nopRegistrar{})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestScanTwice(t *testing.T) {
	l := NewLoader(&fakeOpener{})
	_, err := l.Scan(t.TempDir())
	require.NoError(t, err)

	_, err = l.Scan(t.TempDir())
	assert.ErrorIs(t, err, ErrAlreadyScanned)
}

func TestSymbolForms(t *testing.T) {
	var named command.LoadFunc = func(command.Host, command.Registrar, int) error { return nil }
	plain := func(command.Host, command.Registrar, int) error { return nil }
	conv := func(f func(command.Host, command.Registrar, int) error) command.LoadFunc { return f }

	for name, sym := range map[string]any{
		"Plain":        plain,
		"Named":        named,
		"PointerNamed": &named,
		"PointerPlain": &plain,
	} {
		t.Run(name, func(t *testing.T) {
			lib := &fakeLib{symbols: map[string]any{"S": sym}}
			f, err := symbol(lib, "S", conv)
			require.NoError(t, err)
			assert.NotNil(t, f)
		})
	}

	_, err := symbol(&fakeLib{symbols: map[string]any{}}, "S", conv)
	assert.ErrorIs(t, err, ErrMissingSymbol)

	_, err = symbol(&fakeLib{symbols: map[string]any{"S": "nope"}}, "S", conv)
	assert.ErrorIs(t, err, ErrSymbolType)
}

func TestLoadFailureIsFatal(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.so", "b.so", "c.so")

	rec := &recorder{}
	boom := errors.New("boom")
	op := &fakeOpener{libs: map[string]*fakeLib{
		"a.so": fullModule("a", rec, moduleOpts{}),
		"b.so": fullModule("b", rec, moduleOpts{loadErr: boom}),
		"c.so": fullModule("c", rec, moduleOpts{}),
	}}

	_, err := NewLoader(op).LoadAll(root, testHost{root}, nopRegistrar{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"load c slot=0", "load b slot=1"}, rec.get())
}

func TestUnloadAfterPartialLoad(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.so", "b.so", "c.so")

	rec := &recorder{}
	libs := map[string]*fakeLib{
		"a.so": fullModule("a", rec, moduleOpts{}),
		"b.so": fullModule("b", rec, moduleOpts{loadErr: errors.New("boom")}),
		"c.so": fullModule("c", rec, moduleOpts{}),
	}
	l := NewLoader(&fakeOpener{libs: libs})

	_, err := l.LoadAll(root, testHost{root}, nopRegistrar{})
	require.Error(t, err)

	l.UnloadAll(testHost{root})

	assert.Equal(t, []string{"load c slot=0", "load b slot=1", "unload c"}, rec.get())
	for name, lib := range libs {
		assert.True(t, lib.closed, name)
	}
}

func TestUnloadContinuesPastFailures(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.so", "b.so")

	rec := &recorder{}
	a := fullModule("a", rec, moduleOpts{})
	b := fullModule("b", rec, moduleOpts{unloadErr: errors.New("stuck")})
	l := NewLoader(&fakeOpener{libs: map[string]*fakeLib{"a.so": a, "b.so": b}})
	_, err := l.LoadAll(root, testHost{root}, nopRegistrar{})
	require.NoError(t, err)

	l.UnloadAll(testHost{root})
	l.UnloadAll(testHost{root})

	assert.Equal(t, []string{"load b slot=0", "load a slot=1", "unload b", "unload a"}, rec.get())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestSessionFanOut(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.so", "b.so")

	rec := &recorder{}
	l := NewLoader(&fakeOpener{libs: map[string]*fakeLib{
		"a.so": fullModule("a", rec, moduleOpts{}),
		"b.so": fullModule("b", rec, moduleOpts{finitErr: errors.New("ignored")}),
	}})
	_, err := l.Scan(root)
	require.NoError(t, err)

	c := command.NewContext(nil, l.Len())
	require.NoError(t, l.SessionInit(c))
	l.SessionFinit(c)

	assert.Equal(t, []string{"init b", "init a", "finit b", "finit a"}, rec.get())
}

func TestSessionInitRollsBack(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.so", "b.so", "c.so")

	rec := &recorder{}
	l := NewLoader(&fakeOpener{libs: map[string]*fakeLib{
		"a.so": fullModule("a", rec, moduleOpts{}),
		"b.so": fullModule("b", rec, moduleOpts{initErr: errors.New("no room")}),
		"c.so": fullModule("c", rec, moduleOpts{}),
	}})
	_, err := l.Scan(root)
	require.NoError(t, err)

	err = l.SessionInit(command.NewContext(nil, l.Len()))
	require.Error(t, err)
	assert.Equal(t, []string{"init c", "init b", "finit c"}, rec.get())
}

// A module registering through the Registrar capability ends up with a
// handler that can use its own session slot.
func TestModuleRegistersHandlerUsingSlot(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "counter.so")

	handlers := map[uint32]command.Handler{}
	reg := command.RegistrarFunc(func(lo, hi uint32, h command.Handler) error {
		for c := lo; c <= hi; c++ {
			handlers[c] = h
		}
		return nil
	})

	var mySlot int
	lib := &fakeLib{symbols: map[string]any{
		command.SymbolLoad: func(h command.Host, r command.Registrar, slot int) error {
			mySlot = slot
			return r.Register(100, 101, func(c *command.Context, hdr wire.Header, body []byte) error {
				n, _ := c.Slot(mySlot).(int)
				c.SetSlot(mySlot, n+1)
				return nil
			})
		},
		command.SymbolUnload:       func(command.Host) error { return nil },
		command.SymbolSessionInit:  func(c *command.Context) error { c.SetSlot(mySlot, 0); return nil },
		command.SymbolSessionFinit: func(*command.Context) error { return nil },
	}}

	l := NewLoader(&fakeOpener{libs: map[string]*fakeLib{"counter.so": lib}})
	_, err := l.LoadAll(root, testHost{root}, reg)
	require.NoError(t, err)

	c := command.NewContext(nil, l.Len())
	require.NoError(t, l.SessionInit(c))
	require.NoError(t, handlers[100](c, wire.Header{Cmd: 100}, nil))
	require.NoError(t, handlers[101](c, wire.Header{Cmd: 101}, nil))
	assert.Equal(t, 2, c.Slot(0))
}

func TestWatchReportsChanges(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 8)
	done := make(chan error, 1)
	notify := func(p string) {
		select {
		case changed <- p:
		default:
		}
	}
	go func() { done <- Watch(ctx, root, notify) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(root, "new.so"), []byte("x"), 0o644)
		select {
		case p := <-changed:
			return filepath.Base(p) == "new.so"
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchMissingRoot(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent"), nil)
	assert.NoError(t, err)
}
