// Package inference wraps the ONNX Runtime session lifecycle: execution
// provider selection, the process-wide session registry and the bounded
// LRU session pool.
package inference

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Provider names accepted in configuration, in the order the runtime
// should try them.
const (
	ProviderTensorRT = "tensorrt"
	ProviderCUDA     = "cuda"
	ProviderCPU      = "cpu"
)

// Options select the execution backend for one session. Two distinct
// option sets on the same model file produce two distinct sessions.
type Options struct {
	Providers      []string
	DeviceID       int
	TRTWorkspaceMB int
	TRTEmbedEngine bool
	TRTEngineCache bool
	TRTCachePath   string
	IntraOpThreads int
	InterOpThreads int
}

// Key builds the canonical session key for a model path under these
// options. Providers are sorted so equivalent sets collide.
func (o Options) Key(modelPath string) string {
	abs, err := filepath.Abs(modelPath)
	if err != nil {
		abs = modelPath
	}
	providers := append([]string(nil), o.Providers...)
	for i, p := range providers {
		providers[i] = strings.ToLower(p)
	}
	sort.Strings(providers)

	return fmt.Sprintf("%s|%s|%d|%d|%t|%t",
		abs, strings.Join(providers, ","), o.DeviceID,
		o.TRTWorkspaceMB, o.TRTEmbedEngine, o.TRTEngineCache)
}

// wantsProvider reports whether the option list names p.
func (o Options) wantsProvider(p string) bool {
	for _, v := range o.Providers {
		if strings.EqualFold(v, p) {
			return true
		}
	}
	return false
}
