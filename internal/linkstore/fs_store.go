package linkstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Open 打开（必要时创建）链接目录并探测可写性，整个进程复用一份实例。
// 返回的错误属于配置期错误，调用方应据此停用 sendfile 功能。
func Open(opts Options) (Store, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("%w: link dir required", ErrDirectoryCreateFailed)
	}

	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve link dir: %w", ErrDirectoryCreateFailed, err)
	}

	info, err := fsys.Stat(root)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotWritable, root)
		}
	case errors.Is(err, fs.ErrNotExist):
		if !opts.Create {
			return nil, fmt.Errorf("%w: %s does not exist", ErrDirectoryCreateFailed, root)
		}
		if err := fsys.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDirectoryCreateFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: %w", ErrDirectoryNotWritable, err)
	}

	if err := probeWritable(fsys, root); err != nil {
		return nil, err
	}

	nonce := opts.Nonce
	if nonce == nil {
		nonce = uuid.NewString
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	return &fileStore{
		fs:          fsys,
		root:        root,
		uriPrefix:   opts.URIPrefix,
		salt:        opts.Salt,
		maxAttempts: attempts,
		nonce:       nonce,
	}, nil
}

// fileStore 以链接目录为根，secret 目录的 Mkdir 是唯一的互斥原语。
type fileStore struct {
	fs          afero.Fs
	root        string
	uriPrefix   string
	salt        string
	maxAttempts int
	nonce       func() string
}

func (s *fileStore) Root() string {
	return s.root
}

func (s *fileStore) Allocate(ctx context.Context, target, filename string) (*Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.uriPrefix == "" {
		return nil, ErrMissingPublicURI
	}

	name := filename
	if err := checkLinkName(name); err != nil {
		return nil, err
	}

	linker, ok := s.fs.(afero.Linker)
	if !ok {
		return nil, ErrSymlinkUnsupported
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		secret := s.deriveSecret(target)
		dir := filepath.Join(s.root, secret)

		if err := s.fs.Mkdir(dir, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrDirectoryCreateFailed, err)
		}

		linkPath := filepath.Join(dir, name)
		if err := linker.SymlinkIfPossible(target, linkPath); err != nil {
			_ = s.fs.Remove(dir)
			return nil, fmt.Errorf("create symlink: %w", err)
		}

		link := &Link{
			Secret:   secret,
			Dir:      dir,
			Path:     linkPath,
			Filename: name,
			URI:      s.uriPrefix + secret + "/" + url.PathEscape(name),
		}
		if info, err := s.fs.Stat(dir); err == nil {
			link.CreatedAt = info.ModTime()
		}
		return link, nil
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrSecretCollisionExhausted, s.maxAttempts)
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Secret:  info.Name(),
			Path:    filepath.Join(s.root, info.Name()),
			IsDir:   info.IsDir(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

func (s *fileStore) Remove(ctx context.Context, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if secret == "" || secret == "." || secret == ".." || strings.ContainsAny(secret, `/\`) {
		return ErrInvalidSecret
	}

	dir := filepath.Join(s.root, secret)
	children, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var errs []error
	for _, child := range children {
		// 只删除链接本身，不跟随到源文件。
		if err := s.fs.Remove(filepath.Join(dir, child.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := s.fs.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// deriveSecret 计算 sha1(target + nonce + salt) 的十六进制摘要。
func (s *fileStore) deriveSecret(target string) string {
	sum := sha1.Sum([]byte(target + s.nonce() + s.salt))
	return hex.EncodeToString(sum[:])
}

// CleanFilename 把头部给出的文件名转换为链接名：URL 解码并去掉首尾空白。
// 扩展名校验与 Allocate 都必须使用这里返回的名称。
func CleanFilename(raw string) (string, error) {
	name := raw
	if decoded, err := url.PathUnescape(raw); err == nil {
		name = decoded
	}
	name = strings.TrimSpace(name)
	if checkLinkName(name) != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, raw)
	}
	return name, nil
}

// checkLinkName 拒绝无法作为单层路径段的名称，不做解码。
func checkLinkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	return nil
}

func probeWritable(fsys afero.Fs, root string) error {
	probe, err := afero.TempFile(fsys, root, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDirectoryNotWritable, err)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := fsys.Remove(name); err != nil {
		return fmt.Errorf("%w: %w", ErrDirectoryNotWritable, err)
	}
	return nil
}
