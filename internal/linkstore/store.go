package linkstore

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"
)

// Store 负责管理链接目录。磁盘布局遵循：
//
//	<LinkDir>/<secret>/<filename>    # 指向源文件的符号链接
//
// secret 目录是生命周期与互斥的最小单位，目录的 ModTime 即创建时间。
type Store interface {
	// Allocate 分配一个此前不存在的 secret 目录，并在其中创建指向 target 的符号链接。
	// target 必须已经是绝对路径，filename 应先经过 CleanFilename。
	Allocate(ctx context.Context, target, filename string) (*Link, error)

	// List 返回链接目录下的直接子项，供回收器按 ModTime 判断是否过期。
	List(ctx context.Context) ([]Entry, error)

	// Remove 删除 secret 目录内的全部文件，再删除目录本身。
	Remove(ctx context.Context, secret string) error

	// Root 返回链接目录的绝对路径。
	Root() string
}

// Options 控制链接目录的打开方式。
type Options struct {
	// Root 是链接目录，必须可写。
	Root string
	// Create 为 true 时，目录不存在会自动创建。
	Create bool
	// URIPrefix 是链接目录对外的访问前缀，例如 https://cdn.example/links/。
	URIPrefix string
	// Salt 参与 secret 的计算。
	Salt string
	// MaxAttempts 限制 secret 冲突时的重试次数，<=0 时使用 DefaultMaxAttempts。
	MaxAttempts int
	// Fs 为空时使用真实文件系统。
	Fs afero.Fs
	// Nonce 为空时使用随机 UUID。
	Nonce func() string
}

// DefaultMaxAttempts 是 secret 分配的默认重试上限。
const DefaultMaxAttempts = 16

// Link 描述一次成功分配的 secret 链接。
type Link struct {
	Secret    string    `json:"secret"`
	Dir       string    `json:"dir"`
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry 表示链接目录下的一个直接子项。
type Entry struct {
	Secret  string
	Path    string
	IsDir   bool
	ModTime time.Time
}

var (
	// ErrDirectoryNotWritable 表示链接目录存在但无法写入。
	ErrDirectoryNotWritable = errors.New("link directory not writable")
	// ErrDirectoryCreateFailed 表示链接目录或 secret 目录创建失败（非已存在原因）。
	ErrDirectoryCreateFailed = errors.New("link directory create failed")
	// ErrMissingPublicURI 表示未配置对外访问前缀，无法生成跳转地址。
	ErrMissingPublicURI = errors.New("link directory uri not configured")
	// ErrSecretCollisionExhausted 表示重试上限内没有找到未占用的 secret。
	ErrSecretCollisionExhausted = errors.New("secret collision retries exhausted")
	// ErrUnsafeFilename 表示文件名包含路径分隔符或 .. 等不能作为链接名的内容。
	ErrUnsafeFilename = errors.New("unsafe link filename")
	// ErrSymlinkUnsupported 表示底层文件系统不支持符号链接。
	ErrSymlinkUnsupported = errors.New("filesystem does not support symlinks")
	// ErrInvalidSecret 表示 Remove 收到的 secret 不是单层目录名。
	ErrInvalidSecret = errors.New("invalid secret")
)
