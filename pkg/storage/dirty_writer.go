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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/pagedb/pkg/util"
)

// FlushTarget is the part of BufferPoolMgr the writer drives.
type FlushTarget interface {
	DirtyPages() []BufferSlot
	FlushPage(pageId int32) error
	FlushAllPages() error
}

var _ FlushTarget = new(BufferPoolMgr)

type WriterStats struct {
	BatchTicks  uint64
	Checkpoints uint64
	Errors      uint64
}

// DirtyPageWriter runs two loops against one target: a batched flush
// of at most batchSize dirty pages per tick and a periodic checkpoint.
// Failures are logged and counted. They never stop the loops.
type DirtyPageWriter struct {
	_name            string
	_target          FlushTarget
	_bgInterval      time.Duration
	_ckpInterval     time.Duration
	_batchSize       int
	_shutdownTimeout time.Duration

	_lock       sync.Mutex
	_ctx        context.Context
	_cancel     context.CancelFunc
	_group      *errgroup.Group
	_bgStarted  bool
	_ckpStarted bool
	_stopped    bool

	_batchTicks  atomic.Uint64
	_checkpoints atomic.Uint64
	_errors      atomic.Uint64
}

func NewDirtyPageWriter(
	name string,
	target FlushTarget,
	bgInterval time.Duration,
	ckpInterval time.Duration,
	batchSize int,
	shutdownTimeout time.Duration,
) *DirtyPageWriter {
	util.AssertFunc(bgInterval > 0 && ckpInterval > 0)
	util.AssertFunc(batchSize > 0)
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &DirtyPageWriter{
		_name:            name,
		_target:          target,
		_bgInterval:      bgInterval,
		_ckpInterval:     ckpInterval,
		_batchSize:       batchSize,
		_shutdownTimeout: shutdownTimeout,
		_ctx:             gctx,
		_cancel:          cancel,
		_group:           group,
	}
}

func (w *DirtyPageWriter) StartBackgroundWriter() {
	w._lock.Lock()
	defer w._lock.Unlock()
	if w._bgStarted || w._stopped {
		return
	}
	w._bgStarted = true
	w._group.Go(func() error {
		w.loop(w._bgInterval, w.flushBatch)
		return nil
	})
}

func (w *DirtyPageWriter) StartCheckPointer() {
	w._lock.Lock()
	defer w._lock.Unlock()
	if w._ckpStarted || w._stopped {
		return
	}
	w._ckpStarted = true
	w._group.Go(func() error {
		w.loop(w._ckpInterval, w.checkpoint)
		return nil
	})
}

func (w *DirtyPageWriter) loop(interval time.Duration, fn func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w._ctx.Done():
			return
		case <-ticker.C:
			w.safeRun(fn)
		}
	}
}

func (w *DirtyPageWriter) safeRun(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			w._errors.Add(1)
			util.Error("dirty page writer panic",
				zap.String("file", w._name),
				zap.Error(util.ConvertPanicError(r)))
		}
	}()
	err := fn()
	if err != nil {
		w._errors.Add(1)
		util.Error("dirty page writer flush failed",
			zap.String("file", w._name),
			zap.Error(err))
	}
}

func (w *DirtyPageWriter) flushBatch() error {
	w._batchTicks.Add(1)
	dirty := w._target.DirtyPages()
	var err error
	for i := 0; i < len(dirty) && i < w._batchSize; i++ {
		err = errors.Join(err, w._target.FlushPage(dirty[i].PageId))
	}
	return err
}

func (w *DirtyPageWriter) checkpoint() error {
	w._checkpoints.Add(1)
	err := w._target.FlushAllPages()
	if err != nil {
		return err
	}
	util.Debug("checkpoint done", zap.String("file", w._name))
	return nil
}

// Shutdown stops both loops. It waits for in-flight work up to the
// shutdown timeout and reports whether the loops exited in time.
func (w *DirtyPageWriter) Shutdown() bool {
	w._lock.Lock()
	if w._stopped {
		w._lock.Unlock()
		return true
	}
	w._stopped = true
	w._lock.Unlock()

	w._cancel()
	done := make(chan struct{})
	go func() {
		_ = w._group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(w._shutdownTimeout):
		util.Warn("dirty page writer shutdown timed out",
			zap.String("file", w._name),
			zap.Duration("timeout", w._shutdownTimeout))
		return false
	}
}

func (w *DirtyPageWriter) Stats() WriterStats {
	return WriterStats{
		BatchTicks:  w._batchTicks.Load(),
		Checkpoints: w._checkpoints.Load(),
		Errors:      w._errors.Load(),
	}
}
