// Package consul stores items in the HashiCorp Consul KV store. Every item
// lives under a configurable key prefix as a single JSON envelope carrying
// its type, metadata and content, so folders and symlinks are explicit
// entries rather than inferred from key prefixes.
//
// Consul KV caps values at 512KB, which makes this backend a fit for
// configuration trees and small assets, not bulk data.
package consul

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
	"github.com/mwantia/afs/log"
)

// MaxValueSize leaves headroom under Consul's 512KB value limit for the
// envelope fields around the content.
const MaxValueSize = 500 * 1024

type ConsulBackend struct {
	mu     sync.RWMutex
	client *api.Client
	kv     *api.KV
	config *Config
	logger *log.Logger
}

// Config contains connection options for the Consul backend.
type Config struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Prefix under which all keys are stored (default: "afs")
	Prefix string

	Logger *log.Logger
}

// kvItem is the JSON envelope stored per item.
type kvItem struct {
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"modTime"`
	FileID     string    `json:"fileId,omitempty"`
	LinkTarget string    `json:"linkTarget,omitempty"`
	Content    []byte    `json:"content,omitempty"`
}

const (
	typeFile    = "file"
	typeFolder  = "folder"
	typeSymlink = "symlink"
)

func NewConsulBackend(config *Config) (*ConsulBackend, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}
	if config.Prefix == "" {
		config.Prefix = "afs"
	}
	config.Prefix = strings.Trim(config.Prefix, "/")
	if config.Logger == nil {
		config.Logger = log.Discard()
	}

	clientConfig := api.DefaultConfig()
	clientConfig.Address = config.Address
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return &ConsulBackend{
		client: client,
		kv:     client.KV(),
		config: config,
		logger: config.Logger,
	}, nil
}

// Kind returns the backend-kind tag used for cross-backend path ordering.
func (*ConsulBackend) Kind() string {
	return "consul"
}

func (cb *ConsulBackend) CompareSameKind(other afs.Filesystem) int {
	o, ok := other.(*ConsulBackend)
	if !ok {
		return 0
	}

	if c := strings.Compare(cb.config.Address, o.config.Address); c != 0 {
		return c
	}

	return strings.Compare(cb.config.Prefix, o.config.Prefix)
}

func (cb *ConsulBackend) DisplayPath(rel string) string {
	if rel == "" {
		return fmt.Sprintf("consul://%s/%s", cb.config.Address, cb.config.Prefix)
	}

	return fmt.Sprintf("consul://%s/%s/%s", cb.config.Address, cb.config.Prefix, rel)
}

func (*ConsulBackend) EqualItemName(a, b string) bool {
	return a == b
}

// buildKey maps a relative path onto the configured key prefix.
func (cb *ConsulBackend) buildKey(rel string) string {
	if rel == "" {
		return cb.config.Prefix
	}

	return cb.config.Prefix + "/" + rel
}

func (cb *ConsulBackend) getItem(rel string) (*kvItem, error) {
	pair, _, err := cb.kv.Get(cb.buildKey(rel), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cb.DisplayPath(rel), err)
	}
	if pair == nil {
		return nil, fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrNotExist)
	}

	item := &kvItem{}
	if err := json.Unmarshal(pair.Value, item); err != nil {
		return nil, fmt.Errorf("%s: corrupt entry: %w", cb.DisplayPath(rel), err)
	}

	return item, nil
}

func (cb *ConsulBackend) putItem(rel string, item *kvItem) error {
	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), err)
	}

	if _, err := cb.kv.Put(&api.KVPair{Key: cb.buildKey(rel), Value: value}, nil); err != nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), err)
	}

	return nil
}

func (cb *ConsulBackend) GetItemType(ctx context.Context, rel string) (data.ItemType, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if rel == "" {
		return data.ItemTypeFolder, nil
	}

	item, err := cb.getItem(rel)
	if err != nil {
		return 0, err
	}

	return itemType(item), nil
}

func itemType(item *kvItem) data.ItemType {
	switch item.Type {
	case typeFolder:
		return data.ItemTypeFolder
	case typeSymlink:
		return data.ItemTypeSymlink
	default:
		return data.ItemTypeFile
	}
}

func (cb *ConsulBackend) CreateFolderPlain(ctx context.Context, rel string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if rel == "" {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrExist)
	}

	if _, err := cb.getItem(rel); err == nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrExist)
	}

	if err := cb.requireParentFolder(rel); err != nil {
		return err
	}

	return cb.putItem(rel, &kvItem{Type: typeFolder, ModTime: time.Now()})
}

// CreateSymlinkPlain exists for round-trip coverage; nothing resolves the
// target.
func (cb *ConsulBackend) CreateSymlinkPlain(ctx context.Context, rel, target string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if _, err := cb.getItem(rel); err == nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrExist)
	}
	if err := cb.requireParentFolder(rel); err != nil {
		return err
	}

	return cb.putItem(rel, &kvItem{Type: typeSymlink, ModTime: time.Now(), LinkTarget: target})
}

func (cb *ConsulBackend) requireParentFolder(rel string) error {
	parent, ok := data.ParentRelPath(rel)
	if !ok || parent == "" {
		return nil
	}

	item, err := cb.getItem(parent)
	if err != nil {
		return err
	}
	if item.Type != typeFolder {
		return fmt.Errorf("%s: %w", cb.DisplayPath(parent), data.ErrNotFolder)
	}

	return nil
}

func (cb *ConsulBackend) RemoveFilePlain(ctx context.Context, rel string) error {
	return cb.removeTyped(rel, typeFile)
}

func (cb *ConsulBackend) RemoveSymlinkPlain(ctx context.Context, rel string) error {
	return cb.removeTyped(rel, typeSymlink)
}

func (cb *ConsulBackend) removeTyped(rel, wantType string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	item, err := cb.getItem(rel)
	if err != nil {
		return err
	}
	if item.Type != wantType {
		if item.Type == typeFolder {
			return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrIsFolder)
		}
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrNotExist)
	}

	if _, err := cb.kv.Delete(cb.buildKey(rel), nil); err != nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), err)
	}

	return nil
}

func (cb *ConsulBackend) RemoveFolderPlain(ctx context.Context, rel string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if rel == "" {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrNotSupported)
	}

	item, err := cb.getItem(rel)
	if err != nil {
		return err
	}
	if item.Type != typeFolder {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrNotFolder)
	}

	keys, _, err := cb.kv.Keys(cb.buildKey(rel)+"/", "/", nil)
	if err != nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), err)
	}
	if len(keys) > 0 {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrFolderNotEmpty)
	}

	if _, err := cb.kv.Delete(cb.buildKey(rel), nil); err != nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(rel), err)
	}

	return nil
}

func (cb *ConsulBackend) SetModTime(ctx context.Context, rel string, modTime time.Time) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	item, err := cb.getItem(rel)
	if err != nil {
		return err
	}

	item.ModTime = modTime
	return cb.putItem(rel, item)
}

// MoveAndRenameItem rekeys the item and any subtree below it in a single KV
// transaction, so the staging-to-final rename of a transactional copy is
// atomic on this backend.
func (cb *ConsulBackend) MoveAndRenameItem(ctx context.Context, relSource, relTarget string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	sourceKey := cb.buildKey(relSource)
	targetKey := cb.buildKey(relTarget)

	pairs, _, err := cb.kv.List(sourceKey, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(relSource), err)
	}

	var ops api.KVTxnOps
	moved := false
	for _, pair := range pairs {
		if pair.Key != sourceKey && !strings.HasPrefix(pair.Key, sourceKey+"/") {
			continue // kv.List matches raw prefixes, not path components
		}
		moved = moved || pair.Key == sourceKey

		ops = append(ops,
			&api.KVTxnOp{Verb: api.KVSet, Key: targetKey + pair.Key[len(sourceKey):], Value: pair.Value},
			&api.KVTxnOp{Verb: api.KVDelete, Key: pair.Key},
		)
	}
	if !moved {
		return fmt.Errorf("%s: %w", cb.DisplayPath(relSource), data.ErrNotExist)
	}

	ok, _, _, err := cb.kv.Txn(ops, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", cb.DisplayPath(relSource), err)
	}
	if !ok {
		return fmt.Errorf("%s: rename transaction rejected", cb.DisplayPath(relSource))
	}

	cb.logger.Debug("renamed %d keys from %s to %s", len(ops)/2, sourceKey, targetKey)
	return nil
}

func (cb *ConsulBackend) CopyFileSameKind(ctx context.Context, relSource string, attrs data.StreamAttributes,
	target afs.Path, copyPermissions bool, notify afs.IOProgress) (*data.FileCopyResult, error) {

	tb, ok := target.Fsys.(*ConsulBackend)
	if !ok {
		return afs.CopyFileAsStream(ctx, afs.Path{Fsys: cb, Rel: relSource}, attrs, target, notify)
	}

	cb.mu.RLock()
	item, err := cb.getItem(relSource)
	cb.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if item.Type != typeFile {
		return nil, fmt.Errorf("%s: %w", cb.DisplayPath(relSource), data.ErrIsFolder)
	}

	copied := *item
	copied.FileID = newFileID()

	tb.mu.Lock()
	err = tb.putItem(target.Rel, &copied)
	tb.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if notify != nil {
		if err := notify(2 * item.Size); err != nil {
			return nil, err
		}
	}

	return &data.FileCopyResult{
		Size:         item.Size,
		ModTime:      item.ModTime,
		SourceFileID: data.FileID(item.FileID),
		TargetFileID: data.FileID(copied.FileID),
	}, nil
}

func (cb *ConsulBackend) TraverseFolderRecursive(ctx context.Context, workload []afs.TraversalTask, parallelOps int) error {
	return afs.TraverseWithLister(ctx, workload, parallelOps, cb.listFolder)
}

func (cb *ConsulBackend) listFolder(ctx context.Context, rel string) (*afs.FolderEntries, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if rel != "" {
		item, err := cb.getItem(rel)
		if err != nil {
			return nil, err
		}
		if item.Type != typeFolder {
			return nil, fmt.Errorf("%s: %w", cb.DisplayPath(rel), data.ErrNotFolder)
		}
	}

	prefix := cb.buildKey(rel) + "/"
	keys, _, err := cb.kv.Keys(prefix, "/", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cb.DisplayPath(rel), err)
	}

	entries := &afs.FolderEntries{}
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue // subtree prefixes; the folder entry itself carries the name
		}

		name := key[len(prefix):]
		item, err := cb.getItem(data.JoinRelPath(rel, name))
		if err != nil {
			entries.ItemErrors = append(entries.ItemErrors, afs.ItemError{ItemName: name, Err: err})
			continue
		}

		switch item.Type {
		case typeFolder:
			entries.Folders = append(entries.Folders, data.FolderInfo{ItemName: name})
		case typeSymlink:
			entries.Symlinks = append(entries.Symlinks, data.SymlinkInfo{ItemName: name, ModTime: item.ModTime})
		default:
			entries.Files = append(entries.Files, data.FileInfo{
				ItemName: name,
				Size:     item.Size,
				ModTime:  item.ModTime,
				FileID:   data.FileID(item.FileID),
			})
		}
	}

	return entries, nil
}
