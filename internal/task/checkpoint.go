// Package task orchestrates one task end-to-end: validation, processor
// chain materialisation, the producer/worker/consumer loop over the
// pipeline, checkpointing, metrics and graceful shutdown.
package task

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/faceforge/internal/errs"
)

// CheckpointVersion guards the on-disk record schema.
const CheckpointVersion = "1"

// Checkpoint is the per-task resume record. Checksum is SHA-1 over the
// serialised record with the checksum field blank.
type Checkpoint struct {
	TaskID             string `json:"task_id"`
	ConfigHash         string `json:"config_hash"`
	LastCompletedFrame int64  `json:"last_completed_frame"`
	TotalFrames        int64  `json:"total_frames"`
	OutputPath         string `json:"output_path"`
	OutputFileSize     int64  `json:"output_file_size"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
	Version            string `json:"version"`
	Checksum           string `json:"checksum"`
}

// CheckpointManager persists checkpoints atomically with rate limiting.
type CheckpointManager struct {
	mu       sync.Mutex
	dir      string
	lastSave time.Time
}

// NewCheckpointManager creates the checkpoint directory if needed.
func NewCheckpointManager(dir string) (*CheckpointManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeOutputWriteFailed, err, "create checkpoint dir %s", dir)
	}
	return &CheckpointManager{dir: dir}, nil
}

func (m *CheckpointManager) path(taskID string) string {
	return filepath.Join(m.dir, taskID+".ckpt")
}

// Save writes the record unless the previous save was within minInterval.
// Returns whether a write happened.
func (m *CheckpointManager) Save(data Checkpoint, minInterval time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastSave) < minInterval {
		return false
	}
	m.forceSaveLocked(data)
	m.lastSave = time.Now()
	return true
}

// ForceSave writes the record unconditionally.
func (m *CheckpointManager) ForceSave(data Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forceSaveLocked(data)
}

func (m *CheckpointManager) forceSaveLocked(data Checkpoint) {
	now := time.Now().UTC().Format(time.RFC3339)
	data.UpdatedAt = now
	if data.CreatedAt == "" {
		data.CreatedAt = now
	}
	if data.Version == "" {
		data.Version = CheckpointVersion
	}
	data.Checksum = ""
	data.Checksum = checksum(data)

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("serialise checkpoint", "task", data.TaskID, "error", err)
		return
	}

	path := m.path(data.TaskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		slog.Error("write checkpoint", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Error("rename checkpoint", "path", path, "error", err)
		os.Remove(tmp)
		return
	}
	slog.Debug("checkpoint saved", "task", data.TaskID,
		"frame", data.LastCompletedFrame, "total", data.TotalFrames)
}

// Load returns the record iff the file exists, the checksum verifies and
// the stored config hash matches configHash. Any mismatch restarts the
// run from zero by returning nil.
func (m *CheckpointManager) Load(taskID, configHash string) *Checkpoint {
	payload, err := os.ReadFile(m.path(taskID))
	if err != nil {
		return nil
	}

	var data Checkpoint
	if err := json.Unmarshal(payload, &data); err != nil {
		slog.Warn("invalid checkpoint format", "task", taskID, "error", err)
		return nil
	}

	saved := data.Checksum
	data.Checksum = ""
	if checksum(data) != saved {
		slog.Error("checkpoint integrity check failed", "task", taskID)
		return nil
	}
	data.Checksum = saved

	if data.Version != CheckpointVersion {
		slog.Warn("checkpoint version mismatch, starting fresh",
			"task", taskID, "version", data.Version)
		return nil
	}
	if configHash != "" && data.ConfigHash != configHash {
		slog.Warn("checkpoint config mismatch, starting fresh", "task", taskID)
		return nil
	}

	slog.Info("checkpoint loaded", "task", taskID,
		"resume_from", data.LastCompletedFrame+1, "total", data.TotalFrames)
	return &data
}

// Cleanup removes the checkpoint file after a completed run.
func (m *CheckpointManager) Cleanup(taskID string) {
	if err := os.Remove(m.path(taskID)); err == nil {
		slog.Info("checkpoint cleaned up", "task", taskID)
	}
}

// Exists reports whether a checkpoint file is present.
func (m *CheckpointManager) Exists(taskID string) bool {
	_, err := os.Stat(m.path(taskID))
	return err == nil
}

// checksum hashes the record with the checksum field blank; key order is
// fixed by the struct definition.
func checksum(data Checkpoint) string {
	data.Checksum = ""
	payload, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])
}
