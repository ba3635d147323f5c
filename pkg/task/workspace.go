package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kisohq/kiso/pkg/pubfiles"
)

// planOutputsFile is the transient chaining file exec and skill subprocesses
// read; removed when the message cycle ends.
const planOutputsFile = ".kiso/plan_outputs.json"

// WritePlanOutputs writes the accumulated outputs to the workspace chaining
// file so subprocesses can read what earlier tasks produced.
func (tc *TaskContext) WritePlanOutputs() error {
	path := filepath.Join(tc.Workspace, planOutputsFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create workspace .kiso dir: %w", err)
	}
	data, err := json.Marshal(tc.PlanOutputs)
	if err != nil {
		return fmt.Errorf("failed to marshal plan outputs: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write plan outputs: %w", err)
	}
	return nil
}

// RemovePlanOutputs deletes the chaining file. The worker calls it once per
// message cycle.
func RemovePlanOutputs(workspace string) {
	if err := os.Remove(filepath.Join(workspace, planOutputsFile)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove plan outputs file", "workspace", workspace, "error", err)
	}
}

// ensurePub creates the workspace pub/ directory, chowned to the sandbox uid
// when one is configured so sandboxed subprocesses can write into it.
func (tc *TaskContext) ensurePub() error {
	dir := filepath.Join(tc.Workspace, "pub")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create pub dir: %w", err)
	}
	sandbox := tc.Config.Current().Sandbox
	if sandbox.Enabled() && !tc.IsAdmin {
		if err := os.Chown(dir, int(sandbox.UID), int(sandbox.GID)); err != nil {
			slog.Warn("Failed to chown pub dir", "session", tc.Session, "error", err)
		}
	}
	return nil
}

// appendPubLinks appends tokenized download URLs for pub files created during
// the run. Minting failures disable links but never fail the task.
func (tc *TaskContext) appendPubLinks(output string, before map[string]bool) string {
	created := pubfiles.NewSince(tc.Workspace, before)
	if len(created) == 0 || tc.Pub == nil {
		return output
	}
	links := "\n\nPublished files:"
	for _, name := range created {
		url, err := tc.Pub.URL(tc.Session, name)
		if err != nil {
			slog.Warn("Failed to mint pub link", "session", tc.Session, "file", name, "error", err)
			continue
		}
		links += "\n- " + name + ": " + url
	}
	return output + links
}
