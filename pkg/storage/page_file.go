// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/daviszhen/pagedb/pkg/util"
)

// PageFileMgr moves heap pages between memory and page files.
// Page n of a file lives at offset n*PAGE_SIZE.
type PageFileMgr struct {
	_lock    sync.Mutex
	_handles map[string]*os.File
}

func NewPageFileMgr() *PageFileMgr {
	return &PageFileMgr{
		_handles: make(map[string]*os.File),
	}
}

func (mgr *PageFileMgr) handle(path string, create bool) (*os.File, error) {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if f, ok := mgr._handles[path]; ok {
		return f, nil
	}
	flags := os.O_RDWR
	if create {
		if err := util.EnsureParentDir(path); err != nil {
			return nil, err
		}
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	mgr._handles[path] = f
	return f, nil
}

func (mgr *PageFileMgr) Read(pageId int32, path string) (*HeapPage, error) {
	if pageId < 0 {
		return nil, fmt.Errorf("%w: read page %d of %s",
			util.ErrInvalidArgument, pageId, path)
	}
	if err := util.Inject(util.FAULTS_SCOPE_STORAGE, util.FaultPageFileRead); err != nil {
		return nil, fmt.Errorf("read page %d of %s: %w", pageId, path, err)
	}
	f, err := mgr.handle(path, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: page %d of missing file %s",
				util.ErrNotFound, pageId, path)
		}
		return nil, fmt.Errorf("read page %d of %s: %w", pageId, path, err)
	}
	buf := make([]byte, PAGE_SIZE)
	_, err = f.ReadAt(buf, int64(pageId)*PAGE_SIZE)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: page %d beyond end of %s",
				util.ErrNotFound, pageId, path)
		}
		return nil, fmt.Errorf("read page %d of %s: %w", pageId, path, err)
	}
	page, err := UnmarshalHeapPage(pageId, buf)
	if err != nil {
		return nil, fmt.Errorf("read page %d of %s: %w", pageId, path, err)
	}
	return page, nil
}

// Write stores the page at its offset, extending the file as needed.
func (mgr *PageFileMgr) Write(page *HeapPage, path string) error {
	if page.PageId < 0 {
		return fmt.Errorf("%w: write page %d of %s",
			util.ErrInvalidArgument, page.PageId, path)
	}
	if err := util.Inject(util.FAULTS_SCOPE_STORAGE, util.FaultPageFileWrite); err != nil {
		return fmt.Errorf("write page %d of %s: %w", page.PageId, path, err)
	}
	f, err := mgr.handle(path, true)
	if err != nil {
		return fmt.Errorf("write page %d of %s: %w", page.PageId, path, err)
	}
	_, err = f.WriteAt(page.Marshal(), int64(page.PageId)*PAGE_SIZE)
	if err != nil {
		return fmt.Errorf("write page %d of %s: %w", page.PageId, path, err)
	}
	return nil
}

// NumPages is the number of whole pages in the file. 0 for a missing file.
func (mgr *PageFileMgr) NumPages(path string) (int32, error) {
	sz, err := util.FileSize(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return int32(sz / PAGE_SIZE), nil
}

func (mgr *PageFileMgr) Sync(path string) error {
	mgr._lock.Lock()
	f, ok := mgr._handles[path]
	mgr._lock.Unlock()
	if !ok {
		return nil
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

// CloseFile drops the cached handle of path.
func (mgr *PageFileMgr) CloseFile(path string) error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	f, ok := mgr._handles[path]
	if !ok {
		return nil
	}
	delete(mgr._handles, path)
	return f.Close()
}

func (mgr *PageFileMgr) Close() error {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	var err error
	for path, f := range mgr._handles {
		err = errors.Join(err, f.Close())
		delete(mgr._handles, path)
	}
	return err
}
