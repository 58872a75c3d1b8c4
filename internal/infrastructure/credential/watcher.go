// Package credential watches the .env file and reports access token changes.
package credential

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKey      = "KITE_ACCESS_TOKEN"
	DefaultDebounce = 500 * time.Millisecond
)

// Watcher 监听目录而不是文件本身，编辑器的原子替换（rename）也能被捕获
type Watcher struct {
	path     string
	key      string
	debounce time.Duration
	current  string
	changes  chan string
}

func NewWatcher(path, key, current string, debounce time.Duration) *Watcher {
	if key == "" {
		key = DefaultKey
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		key:      key,
		debounce: debounce,
		current:  current,
		changes:  make(chan string, 1),
	}
}

// Changes 每次 token 变化推送一次新值
func (w *Watcher) Changes() <-chan string { return w.changes }

// Run 阻塞直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info().Str("path", w.path).Dur("debounce", w.debounce).Msg("watching credentials")

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			// 尾部防抖：每个事件都重新计时
			fire = time.After(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("credential watcher error")

		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	env, err := godotenv.Read(w.path)
	if err != nil {
		log.Warn().Str("path", w.path).Err(err).Msg("read env file failed, keeping current token")
		return
	}
	token := strings.TrimSpace(env[w.key])
	if token == "" {
		log.Warn().Str("key", w.key).Msg("token missing after reload, keeping current token")
		return
	}
	if token == w.current {
		log.Debug().Str("key", w.key).Msg("env file changed but token unchanged")
		return
	}
	w.current = token
	log.Info().Str("key", w.key).Msg("access token updated")

	select {
	case w.changes <- token:
	case <-ctx.Done():
	}
}
