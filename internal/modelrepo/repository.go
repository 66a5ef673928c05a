// Package modelrepo resolves model names to on-disk files via a JSON
// catalog, downloading missing files over HTTPS when enabled.
package modelrepo

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/faceforge/internal/errs"
)

// Info is one catalog entry.
type Info struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	// Path is the legacy alias for FileName in older catalogs.
	Path string `json:"path,omitempty"`
	URL  string `json:"url"`
}

type catalogFile struct {
	ModelsInfo []Info `json:"models_info"`
}

// Repository maps model names to local files under a base directory.
type Repository struct {
	mu           sync.Mutex
	baseDir      string
	catalog      map[string]Info
	autoDownload bool
	client       *http.Client
}

// New loads the catalog JSON and returns a repository rooted at baseDir.
func New(catalogPath, baseDir string, autoDownload bool) (*Repository, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileNotFound, err, "read model catalog %s", catalogPath)
	}

	var cf catalogFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidConfigFile, err, "parse model catalog %s", catalogPath)
	}

	catalog := make(map[string]Info, len(cf.ModelsInfo))
	for _, info := range cf.ModelsInfo {
		if info.FileName == "" {
			info.FileName = info.Path
		}
		if info.Name == "" || info.FileName == "" {
			return nil, errs.New(errs.CodeMissingField,
				"model catalog entry missing name or file_name: %+v", info)
		}
		catalog[info.Name] = info
	}

	return &Repository{
		baseDir:      baseDir,
		catalog:      catalog,
		autoDownload: autoDownload,
		client: &http.Client{
			Timeout: 300 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// Lookup returns the catalog entry for name.
func (r *Repository) Lookup(name string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.catalog[name]
	if !ok {
		return Info{}, errs.New(errs.CodeModelFileMissing, "model %q not in catalog", name)
	}
	return info, nil
}

// Resolve returns the absolute on-disk path for a model name, downloading
// the file first when auto-download is enabled and the file is absent.
func (r *Repository) Resolve(name string) (string, error) {
	info, err := r.Lookup(name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.baseDir, info.FileName)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	if _, err := os.Stat(abs); err == nil {
		return abs, nil
	}

	if !r.autoDownload || info.URL == "" {
		return "", errs.New(errs.CodeModelFileMissing, "model file %s for %q", abs, name)
	}

	if err := r.download(info.URL, abs); err != nil {
		return "", err
	}
	return abs, nil
}

// download fetches url into dst atomically: the body streams into
// dst.downloading, which is renamed into place only on success.
func (r *Repository) download(url, dst string) error {
	slog.Info("downloading model", "url", url, "dst", dst)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "create model dir")
	}

	resp, err := r.client.Get(url)
	if err != nil {
		return errs.Wrap(errs.CodeModelLoadFailed, err, "download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.CodeModelLoadFailed, "download %s: HTTP %d", url, resp.StatusCode)
	}

	tmp := dst + ".downloading"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "create %s", tmp)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.CodeModelLoadFailed, err, "write %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "close %s", tmp)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "rename %s", tmp)
	}

	slog.Info("model downloaded", "dst", dst)
	return nil
}

// Names lists every catalog entry name.
func (r *Repository) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.catalog))
	for name := range r.catalog {
		names = append(names, name)
	}
	return names
}

// TypeOf returns the declared type for a model name, or "".
func (r *Repository) TypeOf(name string) string {
	info, err := r.Lookup(name)
	if err != nil {
		return ""
	}
	return info.Type
}
