package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/pagedb/pkg/util"
)

type RegistryHook func(path string, mgr *BufferPoolMgr)

// Registry hands out one BufferPoolMgr per file, created on first use.
type Registry struct {
	_lock         sync.Mutex
	_poolSize     int
	_pfm          *PageFileMgr
	_replacerKind string
	_mgrs         map[string]*BufferPoolMgr
	_onCreate     []RegistryHook
	_onDrop       []RegistryHook
}

func NewRegistry(poolSizePerFile int, pfm *PageFileMgr, replacerKind string) *Registry {
	return &Registry{
		_poolSize:     poolSizePerFile,
		_pfm:          pfm,
		_replacerKind: replacerKind,
		_mgrs:         make(map[string]*BufferPoolMgr),
	}
}

func (reg *Registry) PageFileMgr() *PageFileMgr {
	return reg._pfm
}

// OnCreate registers a hook run for every manager created afterwards.
func (reg *Registry) OnCreate(hook RegistryHook) {
	reg._lock.Lock()
	defer reg._lock.Unlock()
	reg._onCreate = append(reg._onCreate, hook)
}

// OnDrop registers a hook run before a manager is dropped.
func (reg *Registry) OnDrop(hook RegistryHook) {
	reg._lock.Lock()
	defer reg._lock.Unlock()
	reg._onDrop = append(reg._onDrop, hook)
}

// Get returns the manager of path. Different spellings of one file
// share a manager.
func (reg *Registry) Get(path string) (*BufferPoolMgr, error) {
	norm, err := util.NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: path %q: %v", util.ErrInvalidArgument, path, err)
	}
	reg._lock.Lock()
	defer reg._lock.Unlock()
	if mgr, ok := reg._mgrs[norm]; ok {
		return mgr, nil
	}
	mgr := NewBufferPoolMgr(
		reg._poolSize,
		reg._pfm,
		NewReplacer(reg._replacerKind),
		norm)
	reg._mgrs[norm] = mgr
	for _, hook := range reg._onCreate {
		hook(norm, mgr)
	}
	return mgr, nil
}

// Managers returns the live managers ordered by path.
func (reg *Registry) Managers() []*BufferPoolMgr {
	reg._lock.Lock()
	defer reg._lock.Unlock()
	return reg.managers()
}

func (reg *Registry) managers() []*BufferPoolMgr {
	ret := make([]*BufferPoolMgr, 0, len(reg._mgrs))
	for _, mgr := range reg._mgrs {
		ret = append(ret, mgr)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Path() < ret[j].Path()
	})
	return ret
}

// FlushAll checkpoints every file concurrently.
func (reg *Registry) FlushAll() error {
	mgrs := reg.Managers()
	errs := make([]error, len(mgrs))
	g := errgroup.Group{}
	for i, mgr := range mgrs {
		g.Go(func() error {
			errs[i] = mgr.FlushAllPages()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Drop flushes and forgets the manager of path.
func (reg *Registry) Drop(path string) error {
	norm, err := util.NormalizePath(path)
	if err != nil {
		return fmt.Errorf("%w: path %q: %v", util.ErrInvalidArgument, path, err)
	}
	reg._lock.Lock()
	mgr, ok := reg._mgrs[norm]
	if ok {
		delete(reg._mgrs, norm)
	}
	hooks := reg._onDrop
	reg._lock.Unlock()
	if !ok {
		return nil
	}
	for _, hook := range hooks {
		hook(norm, mgr)
	}
	return mgr.Close()
}

// Close drops every manager and closes the page files.
func (reg *Registry) Close() error {
	var err error
	for _, mgr := range reg.Managers() {
		err = errors.Join(err, reg.Drop(mgr.Path()))
	}
	return errors.Join(err, reg._pfm.Close())
}
