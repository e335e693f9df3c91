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
	"fmt"
	"sync"

	"github.com/xlab/treeprint"

	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

const noNode int32 = -1

// bptNode lives in the tree arena. Links between nodes are arena ids.
type bptNode struct {
	id     int32
	parent int32
	leaf   bool
	keys   []any
	//leaf only
	tids  [][]storage.TID
	left  int32
	right int32
	//internal only. len(children) == len(keys)+1
	children []int32
}

// Entry is one key of the tree with every TID inserted under it.
type Entry struct {
	Key  any
	TIDs []storage.TID
}

// BPlusTree is an in-memory B+Tree index. It keeps nothing on disk and
// is rebuilt from the table after a restart.
type BPlusTree struct {
	_lock   sync.RWMutex
	_name   string
	_column string
	_order  int
	_nodes  map[int32]*bptNode
	_nextId int32
	_root   int32
	_height int
	_len    int
}

func NewBPlusTree(name string, column string, order int) (*BPlusTree, error) {
	if order < 2 {
		return nil, fmt.Errorf("%w: b+tree order %d < 2", util.ErrInvalidArgument, order)
	}
	tree := &BPlusTree{
		_name:   name,
		_column: column,
		_order:  order,
		_nodes:  make(map[int32]*bptNode),
		_height: 1,
	}
	tree._root = tree.newLeaf().id
	return tree, nil
}

func (tree *BPlusTree) Name() string {
	return tree._name
}

func (tree *BPlusTree) ColumnName() string {
	return tree._column
}

func (tree *BPlusTree) Type() IndexType {
	return BTREE
}

func (tree *BPlusTree) Order() int {
	return tree._order
}

func (tree *BPlusTree) Height() int {
	tree._lock.RLock()
	defer tree._lock.RUnlock()
	return tree._height
}

// Len is the number of distinct keys.
func (tree *BPlusTree) Len() int {
	tree._lock.RLock()
	defer tree._lock.RUnlock()
	return tree._len
}

func (tree *BPlusTree) maxKeys() int {
	return 2*tree._order - 1
}

func (tree *BPlusTree) alloc(leaf bool) *bptNode {
	node := &bptNode{
		id:     tree._nextId,
		parent: noNode,
		leaf:   leaf,
		left:   noNode,
		right:  noNode,
	}
	tree._nextId++
	tree._nodes[node.id] = node
	return node
}

func (tree *BPlusTree) newLeaf() *bptNode {
	return tree.alloc(true)
}

func (tree *BPlusTree) node(id int32) *bptNode {
	node, ok := tree._nodes[id]
	if !ok {
		panic(fmt.Sprintf("%v: b+tree %s has no node %d", util.ErrIllegalState, tree._name, id))
	}
	return node
}

// childIndex is the first i with key < keys[i], else the last child.
func childIndex(node *bptNode, key any) (int, error) {
	for i, k := range node.keys {
		c, err := CompareKeys(key, k)
		if err != nil {
			return 0, err
		}
		if c < 0 {
			return i, nil
		}
	}
	return len(node.keys), nil
}

func (tree *BPlusTree) findLeaf(key any) (*bptNode, error) {
	cur := tree.node(tree._root)
	for !cur.leaf {
		i, err := childIndex(cur, key)
		if err != nil {
			return nil, err
		}
		cur = tree.node(cur.children[i])
	}
	return cur, nil
}

func (tree *BPlusTree) leftmostLeaf() *bptNode {
	cur := tree.node(tree._root)
	for !cur.leaf {
		cur = tree.node(cur.children[0])
	}
	return cur
}

// leafPosition returns the slot of key in the leaf and whether it is
// already present.
func leafPosition(leaf *bptNode, key any) (int, bool, error) {
	for i, k := range leaf.keys {
		c, err := CompareKeys(key, k)
		if err != nil {
			return 0, false, err
		}
		if c == 0 {
			return i, true, nil
		}
		if c < 0 {
			return i, false, nil
		}
	}
	return len(leaf.keys), false, nil
}

// Insert adds tid under key. A present key collects another TID.
func (tree *BPlusTree) Insert(key any, tid storage.TID) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	tree._lock.Lock()
	defer tree._lock.Unlock()
	leaf, err := tree.findLeaf(key)
	if err != nil {
		return err
	}
	pos, found, err := leafPosition(leaf, key)
	if err != nil {
		return err
	}
	if found {
		leaf.tids[pos] = append(leaf.tids[pos], tid)
		return nil
	}
	leaf.keys = insertAt(leaf.keys, pos, key)
	leaf.tids = insertAt(leaf.tids, pos, []storage.TID{tid})
	tree._len++
	if len(leaf.keys) > tree.maxKeys() {
		tree.splitLeaf(leaf)
	}
	return nil
}

func insertAt[T any](s []T, pos int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func (tree *BPlusTree) splitLeaf(leaf *bptNode) {
	split := (len(leaf.keys) + 1) / 2
	right := tree.newLeaf()
	right.keys = util.CopyTo(leaf.keys[split:])
	right.tids = util.CopyTo(leaf.tids[split:])
	leaf.keys = leaf.keys[:split:split]
	leaf.tids = leaf.tids[:split:split]

	right.right = leaf.right
	right.left = leaf.id
	if leaf.right != noNode {
		tree.node(leaf.right).left = right.id
	}
	leaf.right = right.id

	tree.insertIntoParent(leaf, right.keys[0], right)
}

// insertIntoParent hangs right next to left under separator key,
// growing a new root when left is the root.
func (tree *BPlusTree) insertIntoParent(left *bptNode, key any, right *bptNode) {
	if left.parent == noNode {
		root := tree.alloc(false)
		root.keys = []any{key}
		root.children = []int32{left.id, right.id}
		left.parent = root.id
		right.parent = root.id
		tree._root = root.id
		tree._height++
		return
	}
	parent := tree.node(left.parent)
	pos := util.FindIf(parent.children, func(id int32) bool {
		return id == left.id
	})
	util.AssertFunc(pos >= 0)
	parent.keys = insertAt(parent.keys, pos, key)
	parent.children = insertAt(parent.children, pos+1, right.id)
	right.parent = parent.id
	if len(parent.keys) > tree.maxKeys() {
		tree.splitInternal(parent)
	}
}

// splitInternal promotes the middle key and moves the upper half of
// the keys and children into a new right node.
func (tree *BPlusTree) splitInternal(node *bptNode) {
	mid := len(node.keys) / 2
	promote := node.keys[mid]
	right := tree.alloc(false)
	right.parent = node.parent
	right.keys = util.CopyTo(node.keys[mid+1:])
	right.children = util.CopyTo(node.children[mid+1:])
	for _, child := range right.children {
		tree.node(child).parent = right.id
	}
	node.keys = node.keys[:mid:mid]
	node.children = node.children[: mid+1 : mid+1]
	tree.insertIntoParent(node, promote, right)
}

// Search returns the TIDs stored under key.
func (tree *BPlusTree) Search(key any) ([]storage.TID, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	tree._lock.RLock()
	defer tree._lock.RUnlock()
	leaf, err := tree.findLeaf(key)
	if err != nil {
		return nil, err
	}
	pos, found, err := leafPosition(leaf, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return []storage.TID{}, nil
	}
	return util.CopyTo(leaf.tids[pos]), nil
}

// RangeSearch returns the TIDs of keys between from and to in key
// order. inclusive applies to both bounds. A nil bound is unbounded.
func (tree *BPlusTree) RangeSearch(from, to any, inclusive bool) ([]storage.TID, error) {
	ret := make([]storage.TID, 0)
	err := tree.walkRange(from, to, inclusive, func(_ any, tids []storage.TID) {
		ret = append(ret, tids...)
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (tree *BPlusTree) SearchGreaterThan(key any, inclusive bool) ([]storage.TID, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil bound", util.ErrInvalidArgument)
	}
	return tree.RangeSearch(key, nil, inclusive)
}

func (tree *BPlusTree) SearchLessThan(key any, inclusive bool) ([]storage.TID, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil bound", util.ErrInvalidArgument)
	}
	return tree.RangeSearch(nil, key, inclusive)
}

func (tree *BPlusTree) ScanAll() ([]storage.TID, error) {
	return tree.RangeSearch(nil, nil, true)
}

// Entries walks the leaf chain and returns every key in order.
func (tree *BPlusTree) Entries() ([]Entry, error) {
	ret := make([]Entry, 0)
	err := tree.walkRange(nil, nil, true, func(key any, tids []storage.TID) {
		ret = append(ret, Entry{Key: key, TIDs: util.CopyTo(tids)})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (tree *BPlusTree) walkRange(
	from, to any,
	inclusive bool,
	fn func(key any, tids []storage.TID)) error {
	var err error
	if from != nil {
		from, err = NormalizeKey(from)
		if err != nil {
			return err
		}
	}
	if to != nil {
		to, err = NormalizeKey(to)
		if err != nil {
			return err
		}
	}
	if from != nil && to != nil {
		c, err := CompareKeys(from, to)
		if err != nil {
			return err
		}
		if c > 0 {
			return nil
		}
	}

	tree._lock.RLock()
	defer tree._lock.RUnlock()
	var leaf *bptNode
	if from == nil {
		leaf = tree.leftmostLeaf()
	} else {
		leaf, err = tree.findLeaf(from)
		if err != nil {
			return err
		}
	}
	for {
		for i, k := range leaf.keys {
			if from != nil {
				c, err := CompareKeys(k, from)
				if err != nil {
					return err
				}
				if c < 0 || (c == 0 && !inclusive) {
					continue
				}
			}
			if to != nil {
				c, err := CompareKeys(k, to)
				if err != nil {
					return err
				}
				if c > 0 || (c == 0 && !inclusive) {
					return nil
				}
			}
			fn(k, leaf.tids[i])
		}
		if leaf.right == noNode {
			return nil
		}
		leaf = tree.node(leaf.right)
	}
}

func (tree *BPlusTree) Dump() string {
	tree._lock.RLock()
	defer tree._lock.RUnlock()
	root := treeprint.NewWithRoot(fmt.Sprintf("b+tree %s(%s) order=%d height=%d keys=%d",
		tree._name, tree._column, tree._order, tree._height, tree._len))
	tree.dumpNode(root, tree.node(tree._root))
	return root.String()
}

func (tree *BPlusTree) dumpNode(parent treeprint.Tree, node *bptNode) {
	if node.leaf {
		parent.AddMetaNode(fmt.Sprintf("leaf %d", node.id), fmt.Sprint(node.keys))
		return
	}
	branch := parent.AddMetaBranch(fmt.Sprintf("internal %d", node.id), fmt.Sprint(node.keys))
	for _, child := range node.children {
		tree.dumpNode(branch, tree.node(child))
	}
}

// Close is a no-op. The tree has no file.
func (tree *BPlusTree) Close() error {
	return nil
}
