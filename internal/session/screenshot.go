package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// ScreenshotDir returns <screenshotFolder>/<sessionID>.
func (s *Session) ScreenshotDir() string {
	return filepath.Join(s.opts.ScreenshotFolder, s.id)
}

// Screenshot renders the active page to ScreenshotDir()/filename and returns
// the written path. An empty filename defaults to <unix millis>.png.
func (s *Session) Screenshot(ctx context.Context, filename string) (string, error) {
	s.touch()
	if filename == "" {
		filename = strconv.FormatInt(time.Now().UnixMilli(), 10) + ".png"
	}
	filename = filepath.Base(filename)

	page, err := s.activePage(ctx)
	if err != nil {
		return "", err
	}

	dir := s.ScreenshotDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("browser.screenshot: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := page.Render(ctx, path); err != nil {
		return "", fmt.Errorf("browser.screenshot %s: %w", path, err)
	}
	s.log.Debug("screenshot", zap.String("path", path))
	return path, nil
}

// Screenshots lists the png files under ScreenshotDir, relative to it and
// sorted by name.
func (s *Session) Screenshots(ctx context.Context) ([]string, error) {
	root := s.ScreenshotDir()
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var mu sync.Mutex
	files := []string{}
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".png") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		mu.Lock()
		files = append(files, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
