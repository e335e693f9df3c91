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

package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

const (
	HASH_INITIAL_BUCKETS        = 16
	HASH_META_PAGE_ID     int32 = 0
	MAX_BUCKET_RECORDS          = 32

	noPage int32 = -1
	// next pointer record plus its header
	bucketHeaderSize = storage.PAGE_HEADER_SIZE + storage.RECORD_HEADER_SIZE + 4
	// hash, key len, page id, slot id
	bucketRecordFixed = 4 + 4 + 4 + 2
)

// HashMeta is page 0 of a hash index file.
type HashMeta struct {
	NumBuckets   int32
	MaxBucket    int32
	LowMask      int32
	HighMask     int32
	SplitPointer int32
	RecordCount  int64
}

func initialMeta() HashMeta {
	return HashMeta{
		NumBuckets: HASH_INITIAL_BUCKETS,
		MaxBucket:  HASH_INITIAL_BUCKETS - 1,
		LowMask:    HASH_INITIAL_BUCKETS - 1,
		HighMask:   HASH_INITIAL_BUCKETS - 1,
	}
}

func (meta *HashMeta) marshal() []byte {
	serial := util.NewBytesSerialize()
	for _, v := range []int32{meta.NumBuckets, meta.MaxBucket, meta.LowMask, meta.HighMask, meta.SplitPointer} {
		_ = util.Write[int32](v, serial)
	}
	_ = util.Write[int64](meta.RecordCount, serial)
	return serial.Bytes()
}

func unmarshalHashMeta(data []byte) (HashMeta, error) {
	meta := HashMeta{}
	deserial := util.NewBytesDeserialize(data)
	for _, v := range []*int32{&meta.NumBuckets, &meta.MaxBucket, &meta.LowMask, &meta.HighMask, &meta.SplitPointer} {
		err := util.Read[int32](v, deserial)
		if err != nil {
			return meta, err
		}
	}
	err := util.Read[int64](&meta.RecordCount, deserial)
	return meta, err
}

type bucketRecord struct {
	hash int32
	key  []byte
	tid  storage.TID
}

func (rec *bucketRecord) size() int {
	return bucketRecordFixed + len(rec.key)
}

func (rec *bucketRecord) less(o *bucketRecord) bool {
	if rec.hash != o.hash {
		return rec.hash < o.hash
	}
	return bytes.Compare(rec.key, o.key) < 0
}

func (rec *bucketRecord) marshal() []byte {
	serial := util.NewBytesSerialize()
	_ = util.Write[int32](rec.hash, serial)
	_ = util.WriteBytes(rec.key, serial)
	_ = rec.tid.Serialize(serial)
	return serial.Bytes()
}

func unmarshalBucketRecord(data []byte) (bucketRecord, error) {
	rec := bucketRecord{}
	deserial := util.NewBytesDeserialize(data)
	err := util.Read[int32](&rec.hash, deserial)
	if err != nil {
		return rec, err
	}
	rec.key, err = util.ReadBytes(deserial)
	if err != nil {
		return rec, err
	}
	rec.tid, err = storage.DeserializeTID(deserial)
	return rec, err
}

// bucketPage is one page of a bucket chain. Record 0 of the heap page
// holds next, the rest are the bucket records.
type bucketPage struct {
	next    int32
	records []bucketRecord
}

func (bp *bucketPage) bytesUsed() int {
	n := bucketHeaderSize
	for i := range bp.records {
		n += storage.RECORD_HEADER_SIZE + bp.records[i].size()
	}
	return n
}

func (bp *bucketPage) fits(rec *bucketRecord) bool {
	return len(bp.records) < MAX_BUCKET_RECORDS &&
		bp.bytesUsed()+storage.RECORD_HEADER_SIZE+rec.size() <= storage.PAGE_SIZE
}

// add keeps records ordered by hash then key bytes.
func (bp *bucketPage) add(rec bucketRecord) {
	pos := sort.Search(len(bp.records), func(i int) bool {
		return rec.less(&bp.records[i])
	})
	bp.records = append(bp.records, bucketRecord{})
	copy(bp.records[pos+1:], bp.records[pos:])
	bp.records[pos] = rec
}

// LinearHashIndex is a disk-resident hash index growing one bucket per
// overflow. Bucket b starts at page 1+b. Overflow pages are allocated
// past the highest page in use.
type LinearHashIndex struct {
	_lock       sync.Mutex
	_name       string
	_column     string
	_bpm        *storage.BufferPoolMgr
	_meta       HashMeta
	_nextPageId int32
}

// OpenLinearHashIndex opens the index file at path, creating the
// initial buckets when the file holds no meta page.
func OpenLinearHashIndex(
	name string,
	column string,
	path string,
	registry *storage.Registry) (*LinearHashIndex, error) {
	bpm, err := registry.Get(path)
	if err != nil {
		return nil, err
	}
	idx := &LinearHashIndex{
		_name:   name,
		_column: column,
		_bpm:    bpm,
		_meta:   initialMeta(),
	}
	page, err := bpm.GetPage(HASH_META_PAGE_ID)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return nil, fmt.Errorf("open hash index %s: %w", name, err)
	}
	if err == nil && page.Size() > 0 {
		idx._meta, err = unmarshalHashMeta(page.Records[0])
		if err != nil {
			return nil, fmt.Errorf("open hash index %s: meta: %w", name, err)
		}
	} else {
		err = idx.initialize()
		if err != nil {
			return nil, fmt.Errorf("init hash index %s: %w", name, err)
		}
	}
	numPages, err := bpm.NumPages()
	if err != nil {
		return nil, err
	}
	idx._nextPageId = max(numPages, 1+idx._meta.NumBuckets)
	return idx, nil
}

func (idx *LinearHashIndex) initialize() error {
	err := idx.writeMeta()
	if err != nil {
		return err
	}
	for b := int32(0); b < idx._meta.NumBuckets; b++ {
		err = idx.writeBucketPage(primaryPageId(b), &bucketPage{next: noPage})
		if err != nil {
			return err
		}
	}
	return nil
}

func primaryPageId(bucket int32) int32 {
	return 1 + bucket
}

func (idx *LinearHashIndex) Name() string {
	return idx._name
}

func (idx *LinearHashIndex) ColumnName() string {
	return idx._column
}

func (idx *LinearHashIndex) Type() IndexType {
	return HASH
}

func (idx *LinearHashIndex) Path() string {
	return idx._bpm.Path()
}

func (idx *LinearHashIndex) Meta() HashMeta {
	idx._lock.Lock()
	defer idx._lock.Unlock()
	return idx._meta
}

func (idx *LinearHashIndex) NumBuckets() int32 {
	return idx.Meta().NumBuckets
}

func (idx *LinearHashIndex) MaxBucket() int32 {
	return idx.Meta().MaxBucket
}

func (idx *LinearHashIndex) RecordCount() int64 {
	return idx.Meta().RecordCount
}

func (idx *LinearHashIndex) computeBucket(hash int32) int32 {
	b := hash & idx._meta.HighMask
	if b > idx._meta.MaxBucket {
		b = hash & idx._meta.LowMask
	}
	return b
}

func (idx *LinearHashIndex) writeMeta() error {
	page := storage.NewHeapPage(HASH_META_PAGE_ID)
	_, err := page.Write(idx._meta.marshal())
	if err != nil {
		return err
	}
	return idx._bpm.NewPage(page)
}

func (idx *LinearHashIndex) readBucketPage(pageId int32) (*bucketPage, error) {
	page, err := idx._bpm.GetPage(pageId)
	if err != nil {
		return nil, fmt.Errorf("hash index %s bucket page %d: %w", idx._name, pageId, err)
	}
	bp := &bucketPage{next: noPage}
	if page.Size() == 0 {
		return bp, nil
	}
	if len(page.Records[0]) != 4 {
		return nil, fmt.Errorf("%w: hash index %s page %d has no next pointer",
			util.ErrIllegalState, idx._name, pageId)
	}
	bp.next = int32(binary.BigEndian.Uint32(page.Records[0]))
	bp.records = make([]bucketRecord, 0, page.Size()-1)
	for _, data := range page.Records[1:] {
		rec, err := unmarshalBucketRecord(data)
		if err != nil {
			return nil, fmt.Errorf("hash index %s page %d: %w", idx._name, pageId, err)
		}
		bp.records = append(bp.records, rec)
	}
	return bp, nil
}

func (idx *LinearHashIndex) writeBucketPage(pageId int32, bp *bucketPage) error {
	page := storage.NewHeapPage(pageId)
	next := make([]byte, 4)
	binary.BigEndian.PutUint32(next, uint32(bp.next))
	_, err := page.Write(next)
	if err != nil {
		return err
	}
	for i := range bp.records {
		_, err = page.Write(bp.records[i].marshal())
		if err != nil {
			return err
		}
	}
	return idx._bpm.NewPage(page)
}

func (idx *LinearHashIndex) allocPageId() int32 {
	id := idx._nextPageId
	idx._nextPageId++
	return id
}

// Insert adds the pair. An overflow anywhere splits exactly one bucket.
func (idx *LinearHashIndex) Insert(key any, tid storage.TID) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	enc := EncodeKey(key)
	rec := bucketRecord{hash: HashKey(enc), key: enc, tid: tid}
	if bucketHeaderSize+storage.RECORD_HEADER_SIZE+rec.size() > storage.PAGE_SIZE {
		return fmt.Errorf("%w: key of %d bytes never fits a bucket page",
			util.ErrCapacityExceeded, len(enc))
	}

	idx._lock.Lock()
	defer idx._lock.Unlock()
	overflow, err := idx.insertIntoChain(idx.computeBucket(rec.hash), rec)
	if err != nil {
		return err
	}
	idx._meta.RecordCount++
	err = idx.writeMeta()
	if err != nil {
		return err
	}
	if overflow {
		return idx.split()
	}
	return nil
}

// insertIntoChain puts rec into the first page of the bucket with
// room. It reports whether an overflow page had to be added.
func (idx *LinearHashIndex) insertIntoChain(bucket int32, rec bucketRecord) (bool, error) {
	pageId := primaryPageId(bucket)
	for {
		bp, err := idx.readBucketPage(pageId)
		if err != nil {
			return false, err
		}
		if bp.fits(&rec) {
			bp.add(rec)
			return false, idx.writeBucketPage(pageId, bp)
		}
		if bp.next == noPage {
			overflowId := idx.allocPageId()
			err = idx.writeBucketPage(overflowId, &bucketPage{
				next:    noPage,
				records: []bucketRecord{rec},
			})
			if err != nil {
				return false, err
			}
			bp.next = overflowId
			return true, idx.writeBucketPage(pageId, bp)
		}
		pageId = bp.next
	}
}

// split moves the bucket under the split pointer into itself and the
// new bucket maxBucket+1.
func (idx *LinearHashIndex) split() error {
	meta := idx._meta
	splitBucket := meta.SplitPointer
	newBucket := meta.MaxBucket + 1
	lowMask, highMask := meta.LowMask, meta.HighMask
	if newBucket > highMask {
		lowMask = highMask
		highMask = (highMask << 1) | 1
	}

	records, overflowIds, err := idx.readChain(splitBucket)
	if err != nil {
		return err
	}
	err = idx.writeBucketPage(primaryPageId(splitBucket), &bucketPage{next: noPage})
	if err != nil {
		return err
	}
	for _, id := range overflowIds {
		err = idx._bpm.DropPage(id)
		if err != nil {
			return err
		}
	}

	newPrimary := primaryPageId(newBucket)
	err = idx.relocateIfLive(newPrimary)
	if err != nil {
		return err
	}
	err = idx.writeBucketPage(newPrimary, &bucketPage{next: noPage})
	if err != nil {
		return err
	}
	if newPrimary >= idx._nextPageId {
		idx._nextPageId = newPrimary + 1
	}

	splitPointer := meta.SplitPointer + 1
	if splitPointer > lowMask {
		splitPointer = 0
		lowMask = highMask
	}
	idx._meta = HashMeta{
		NumBuckets:   meta.NumBuckets + 1,
		MaxBucket:    newBucket,
		LowMask:      lowMask,
		HighMask:     highMask,
		SplitPointer: splitPointer,
		RecordCount:  meta.RecordCount,
	}
	err = idx.writeMeta()
	if err != nil {
		return err
	}

	//reinsertion never splits again
	for _, rec := range records {
		_, err = idx.insertIntoChain(idx.computeBucket(rec.hash), rec)
		if err != nil {
			return err
		}
	}
	util.Debug("hash index split",
		zap.String("index", idx._name),
		zap.Int32("bucket", splitBucket),
		zap.Int32("newBucket", newBucket),
		zap.Int("moved", len(records)))
	return nil
}

// readChain returns the records of a bucket and its overflow page ids.
func (idx *LinearHashIndex) readChain(bucket int32) ([]bucketRecord, []int32, error) {
	records := make([]bucketRecord, 0)
	overflowIds := make([]int32, 0)
	pageId := primaryPageId(bucket)
	for pageId != noPage {
		bp, err := idx.readBucketPage(pageId)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, bp.records...)
		if bp.next != noPage {
			overflowIds = append(overflowIds, bp.next)
		}
		pageId = bp.next
	}
	return records, overflowIds, nil
}

// relocateIfLive moves a live overflow page away from pageId so that
// pageId can become the primary page of a new bucket.
func (idx *LinearHashIndex) relocateIfLive(pageId int32) error {
	if pageId >= idx._nextPageId {
		return nil
	}
	pred, err := idx.findPredecessor(pageId)
	if err != nil || pred == noPage {
		return err
	}
	bp, err := idx.readBucketPage(pageId)
	if err != nil {
		return err
	}
	newId := idx.allocPageId()
	err = idx.writeBucketPage(newId, bp)
	if err != nil {
		return err
	}
	prev, err := idx.readBucketPage(pred)
	if err != nil {
		return err
	}
	prev.next = newId
	err = idx.writeBucketPage(pred, prev)
	if err != nil {
		return err
	}
	util.Debug("hash index relocate overflow page",
		zap.String("index", idx._name),
		zap.Int32("from", pageId),
		zap.Int32("to", newId))
	return nil
}

func (idx *LinearHashIndex) findPredecessor(pageId int32) (int32, error) {
	for b := int32(0); b <= idx._meta.MaxBucket; b++ {
		cur := primaryPageId(b)
		for cur != noPage {
			bp, err := idx.readBucketPage(cur)
			if err != nil {
				return noPage, err
			}
			if bp.next == pageId {
				return cur, nil
			}
			cur = bp.next
		}
	}
	return noPage, nil
}

// Search returns the TIDs stored under exactly this key.
// The key must already have the column's Go type: int32(5) and
// int64(5) land in different buckets.
func (idx *LinearHashIndex) Search(key any) ([]storage.TID, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	enc := EncodeKey(key)
	hash := HashKey(enc)

	idx._lock.Lock()
	defer idx._lock.Unlock()
	ret := make([]storage.TID, 0)
	pageId := primaryPageId(idx.computeBucket(hash))
	for pageId != noPage {
		bp, err := idx.readBucketPage(pageId)
		if err != nil {
			return nil, err
		}
		for i := range bp.records {
			if bp.records[i].hash == hash && bytes.Equal(bp.records[i].key, enc) {
				ret = append(ret, bp.records[i].tid)
			}
		}
		pageId = bp.next
	}
	return ret, nil
}

// ScanAll returns every TID, bucket by bucket.
func (idx *LinearHashIndex) ScanAll() ([]storage.TID, error) {
	idx._lock.Lock()
	defer idx._lock.Unlock()
	ret := make([]storage.TID, 0)
	for b := int32(0); b <= idx._meta.MaxBucket; b++ {
		records, _, err := idx.readChain(b)
		if err != nil {
			return nil, err
		}
		for i := range records {
			ret = append(ret, records[i].tid)
		}
	}
	return ret, nil
}

func (idx *LinearHashIndex) Dump() string {
	idx._lock.Lock()
	defer idx._lock.Unlock()
	meta := idx._meta
	tree := treeprint.NewWithRoot(fmt.Sprintf("hash index %s(%s)", idx._name, idx._column))
	tree.AddMetaNode("meta", fmt.Sprintf(
		"buckets=%d maxBucket=%d lowMask=%#x highMask=%#x splitPointer=%d records=%d",
		meta.NumBuckets, meta.MaxBucket, meta.LowMask, meta.HighMask,
		meta.SplitPointer, meta.RecordCount))
	for b := int32(0); b <= meta.MaxBucket; b++ {
		branch := tree.AddMetaBranch("bucket", b)
		pageId := primaryPageId(b)
		for pageId != noPage {
			bp, err := idx.readBucketPage(pageId)
			if err != nil {
				branch.AddNode(err.Error())
				break
			}
			branch.AddMetaNode(pageId, fmt.Sprintf("%d records", len(bp.records)))
			pageId = bp.next
		}
	}
	return tree.String()
}

// Close flushes the index file.
func (idx *LinearHashIndex) Close() error {
	return idx._bpm.FlushAllPages()
}
